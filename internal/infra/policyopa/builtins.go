package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the closed set of builtins a review policy may use.
// Nothing here can reach the network, filesystem, clock, or environment.
var allowedBuiltins = map[string]struct{}{
	"abs":            {},
	"ceil":           {},
	"concat":         {},
	"contains":       {},
	"count":          {},
	"eq":             {},
	"equal":          {},
	"endswith":       {},
	"floor":          {},
	"format_int":     {},
	"gt":             {},
	"gte":            {},
	"lt":             {},
	"lte":            {},
	"json.marshal":   {},
	"json.unmarshal": {},
	"lower":          {},
	"max":            {},
	"min":            {},
	"neq":            {},
	"object.get":     {},
	"object.union":   {},
	"round":          {},
	"sort":           {},
	"split":          {},
	"sprintf":        {},
	"startswith":     {},
	"substring":      {},
	"sum":            {},
	"trim":           {},
	"upper":          {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}

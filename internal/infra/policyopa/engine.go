// Package policyopa evaluates the advisory detector-review policy. The
// policy can flag a capture for human review based on detector scores; it
// runs after confidence aggregation and has no way to change the verdict.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"attestd/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.attestd.review.result"

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

// NewEngineFromBundlePath compiles the rego bundle at the given directory
// with a restricted builtin set: review policies are pure functions of their
// input, so anything that reaches the network, clock, or environment is
// rejected at load time.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string, bundleID string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
		bundleID:   bundleID,
	}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.ReviewInput) (domain.ReviewEvaluation, error) {
	if e == nil {
		return domain.ReviewEvaluation{}, errors.New("review engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.ReviewEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.ReviewEvaluation{}, errors.New("empty review result")
	}
	result, err := decodeReviewResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.ReviewEvaluation{}, err
	}
	normalizeReviewResult(&result)
	return domain.ReviewEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     result,
	}, nil
}

func decodeReviewResult(value any) (domain.ReviewResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	var result domain.ReviewResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.ReviewResult{}, err
	}
	return result, nil
}

// normalizeReviewResult sorts flags so the same input always yields the
// same evaluation record.
func normalizeReviewResult(result *domain.ReviewResult) {
	if result == nil {
		return
	}
	sort.Slice(result.Flags, func(i, j int) bool {
		if result.Flags[i].Code == result.Flags[j].Code {
			return result.Flags[i].Message < result.Flags[j].Message
		}
		return result.Flags[i].Code < result.Flags[j].Code
	})
}

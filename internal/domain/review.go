package domain

// ReviewInput is what the advisory detector-review policy evaluates: the
// supporting-detector metrics plus the already-final confidence verdict.
// The policy can flag a capture for human review; it cannot change the
// verdict.
type ReviewInput struct {
	CaptureType string            `json:"capture_type"`
	Confidence  string            `json:"confidence"`
	Detectors   *DetectionResults `json:"detectors,omitempty"`
}

type ReviewFlag struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type ReviewResult struct {
	Review bool         `json:"review"`
	Flags  []ReviewFlag `json:"flags"`
}

// ReviewEvaluation pairs a policy result with the bundle that produced it so
// review decisions stay auditable.
type ReviewEvaluation struct {
	BundleID   string
	BundleHash string
	Result     ReviewResult
}

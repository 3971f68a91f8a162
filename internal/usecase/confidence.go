package usecase

import "attestd/internal/domain"

// ConfidencePolicyVersion names the precedence rule set in force. Bump it
// whenever the rules below change so stored verdicts stay attributable.
const ConfidencePolicyVersion = "confidence.v1"

// confidenceRule is one step of the fixed precedence order. Rules are
// evaluated top to bottom; the first match wins.
type confidenceRule struct {
	name    string
	matches func(ev domain.Evidence) bool
	level   domain.ConfidenceLevel
}

// confidenceRules is the single place trust policy lives. Explicit failure
// detection outranks any amount of corroborating pass evidence; absent
// signals slide the verdict toward MEDIUM/LOW, never toward SUSPICIOUS.
var confidenceRules = []confidenceRule{
	{
		// The failure predicate is fixed: an invalid timestamp, a failed
		// attestation, or a failed depth check. Other metadata problems
		// (for example a model mismatch) are recorded on the evidence but
		// do not rank here.
		name: "explicit failure detected",
		matches: func(ev domain.Evidence) bool {
			if ev.Metadata.Status != domain.SignalUnavailable && !ev.Metadata.TimestampValid {
				return true
			}
			return ev.HardwareAttestation.Status == domain.SignalFail ||
				ev.DepthAnalysis.Status == domain.SignalFail
		},
		level: domain.ConfidenceSuspicious,
	},
	{
		name: "attested device and real scene",
		matches: func(ev domain.Evidence) bool {
			return attestationPassed(ev) && realScene(ev)
		},
		level: domain.ConfidenceHigh,
	},
	{
		name: "one corroborating signal",
		matches: func(ev domain.Evidence) bool {
			return attestationPassed(ev) != realScene(ev)
		},
		level: domain.ConfidenceMedium,
	},
	{
		name:    "no corroborating signal",
		matches: func(ev domain.Evidence) bool { return true },
		level:   domain.ConfidenceLow,
	},
}

// ComputeConfidence maps finalized evidence to the four-level verdict. It is
// pure and total: identical evidence always yields the identical level, and
// recomputing offline for audit is always safe. A required section that is
// missing entirely (nil, not "unavailable") is fatal.
func ComputeConfidence(ev domain.Evidence) (domain.ConfidenceLevel, error) {
	if ev.HardwareAttestation == nil || ev.DepthAnalysis == nil || ev.Metadata == nil {
		return "", domain.ErrEvidenceIncomplete
	}
	if !ev.HardwareAttestation.Status.Valid() ||
		!ev.DepthAnalysis.Status.Valid() ||
		!ev.Metadata.Status.Valid() {
		return "", domain.ErrEvidenceIncomplete
	}
	for _, rule := range confidenceRules {
		if rule.matches(ev) {
			return rule.level, nil
		}
	}
	// Unreachable: the last rule matches everything.
	return domain.ConfidenceLow, nil
}

func attestationPassed(ev domain.Evidence) bool {
	return ev.HardwareAttestation.Status == domain.SignalPass
}

// realScene treats the upstream isLikelyRealScene verdict as opaque: the
// thresholds behind it belong to the depth-analysis collaborator.
func realScene(ev domain.Evidence) bool {
	return ev.DepthAnalysis.Status == domain.SignalPass && ev.DepthAnalysis.IsLikelyRealScene
}

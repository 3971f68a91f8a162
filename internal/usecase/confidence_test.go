package usecase

import (
	"errors"
	"testing"

	"attestd/internal/domain"
)

func evidenceFixture(attn, depth domain.SignalStatus, realScene, timestampValid bool) domain.Evidence {
	return domain.Evidence{
		HardwareAttestation: &domain.HardwareAttestationEvidence{
			Status: attn,
			Level:  domain.AttestationLevelSecureEnclave,
		},
		DepthAnalysis: &domain.DepthAnalysisEvidence{
			Status:            depth,
			DepthVariance:     1.8,
			DepthLayers:       5,
			EdgeCoherence:     0.85,
			IsLikelyRealScene: realScene,
		},
		Metadata: &domain.MetadataEvidence{
			Status:         domain.SignalPass,
			TimestampValid: timestampValid,
			ModelValid:     true,
		},
	}
}

func TestComputeConfidencePrecedence(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.Evidence
		want domain.ConfidenceLevel
	}{
		{
			name: "attestation pass and real scene",
			ev:   evidenceFixture(domain.SignalPass, domain.SignalPass, true, true),
			want: domain.ConfidenceHigh,
		},
		{
			name: "depth fail outranks attestation pass",
			ev: func() domain.Evidence {
				ev := evidenceFixture(domain.SignalPass, domain.SignalFail, false, true)
				// Flat scene: variance far below the collaborator's 0.5 threshold.
				ev.DepthAnalysis.DepthVariance = 0.02
				ev.DepthAnalysis.DepthLayers = 1
				return ev
			}(),
			want: domain.ConfidenceSuspicious,
		},
		{
			name: "attestation unavailable with depth pass",
			ev:   evidenceFixture(domain.SignalUnavailable, domain.SignalPass, true, true),
			want: domain.ConfidenceMedium,
		},
		{
			name: "attestation and depth unavailable",
			ev:   evidenceFixture(domain.SignalUnavailable, domain.SignalUnavailable, false, true),
			want: domain.ConfidenceLow,
		},
		{
			name: "stale timestamp outranks everything",
			ev: func() domain.Evidence {
				ev := evidenceFixture(domain.SignalPass, domain.SignalPass, true, false)
				ev.Metadata.TimestampDeltaSeconds = 3600
				return ev
			}(),
			want: domain.ConfidenceSuspicious,
		},
		{
			name: "model mismatch is recorded but never ranks as failure",
			ev: func() domain.Evidence {
				ev := evidenceFixture(domain.SignalPass, domain.SignalPass, true, true)
				ev.Metadata.Status = domain.SignalFail
				ev.Metadata.ModelValid = false
				return ev
			}(),
			want: domain.ConfidenceHigh,
		},
		{
			name: "attestation fail outranks depth pass",
			ev:   evidenceFixture(domain.SignalFail, domain.SignalPass, true, true),
			want: domain.ConfidenceSuspicious,
		},
		{
			name: "attestation pass with unreal scene verdict",
			ev:   evidenceFixture(domain.SignalPass, domain.SignalUnavailable, false, true),
			want: domain.ConfidenceMedium,
		},
		{
			name: "metadata unavailable never fires the timestamp rule",
			ev: func() domain.Evidence {
				ev := evidenceFixture(domain.SignalPass, domain.SignalPass, true, false)
				ev.Metadata.Status = domain.SignalUnavailable
				return ev
			}(),
			want: domain.ConfidenceHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeConfidence(tt.ev)
			if err != nil {
				t.Fatalf("compute confidence: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestComputeConfidenceIdempotent(t *testing.T) {
	ev := evidenceFixture(domain.SignalPass, domain.SignalPass, true, true)
	first, err := ComputeConfidence(ev)
	if err != nil {
		t.Fatalf("compute confidence: %v", err)
	}
	second, err := ComputeConfidence(ev)
	if err != nil {
		t.Fatalf("compute confidence: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical verdicts, got %s then %s", first, second)
	}
}

func TestComputeConfidenceMissingSectionFatal(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ev *domain.Evidence)
	}{
		{name: "missing attestation", mutate: func(ev *domain.Evidence) { ev.HardwareAttestation = nil }},
		{name: "missing depth", mutate: func(ev *domain.Evidence) { ev.DepthAnalysis = nil }},
		{name: "missing metadata", mutate: func(ev *domain.Evidence) { ev.Metadata = nil }},
		{name: "invalid status", mutate: func(ev *domain.Evidence) { ev.DepthAnalysis.Status = "maybe" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := evidenceFixture(domain.SignalPass, domain.SignalPass, true, true)
			tt.mutate(&ev)
			if _, err := ComputeConfidence(ev); !errors.Is(err, domain.ErrEvidenceIncomplete) {
				t.Fatalf("expected ErrEvidenceIncomplete, got %v", err)
			}
		})
	}
}

// TestComputeConfidenceExhaustive walks every status combination and checks
// the structural properties of the precedence order rather than individual
// outcomes: totality, and that absence alone never produces SUSPICIOUS.
func TestComputeConfidenceExhaustive(t *testing.T) {
	statuses := []domain.SignalStatus{domain.SignalPass, domain.SignalFail, domain.SignalUnavailable}
	bools := []bool{false, true}
	for _, attn := range statuses {
		for _, depth := range statuses {
			for _, meta := range statuses {
				for _, scene := range bools {
					for _, tsValid := range bools {
						ev := evidenceFixture(attn, depth, scene, tsValid)
						ev.Metadata.Status = meta
						got, err := ComputeConfidence(ev)
						if err != nil {
							t.Fatalf("compute confidence: %v", err)
						}
						switch got {
						case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow, domain.ConfidenceSuspicious:
						default:
							t.Fatalf("non-total result %q", got)
						}
						explicitFail := attn == domain.SignalFail ||
							depth == domain.SignalFail ||
							(meta != domain.SignalUnavailable && !tsValid)
						if got == domain.ConfidenceSuspicious && !explicitFail {
							t.Fatalf("SUSPICIOUS without an explicit failure: attn=%s depth=%s meta=%s scene=%v ts=%v",
								attn, depth, meta, scene, tsValid)
						}
						if explicitFail && got != domain.ConfidenceSuspicious {
							t.Fatalf("explicit failure not ranked SUSPICIOUS: attn=%s depth=%s meta=%s scene=%v ts=%v",
								attn, depth, meta, scene, tsValid)
						}
					}
				}
			}
		}
	}
}

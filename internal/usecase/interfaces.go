package usecase

import (
	"context"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/attest"
	"attestd/internal/infra/hashchain"
)

type DeviceRepository interface {
	GetByID(ctx context.Context, deviceID string) (*domain.Device, error)
	GetByAttestationKeyID(ctx context.Context, keyID string) (*domain.Device, error)
	Create(ctx context.Context, device domain.Device) (domain.Device, error)

	// AdvanceCounter performs the atomic compare-and-set on the assertion
	// counter: it succeeds only when presented is strictly greater than the
	// stored value, and returns ErrReplayDetected otherwise. The stored
	// counter never regresses.
	AdvanceCounter(ctx context.Context, deviceID string, presented int64, seenAt time.Time) error
}

type CaptureRepository interface {
	GetByID(ctx context.Context, captureID string) (*domain.Capture, error)
	Create(ctx context.Context, capture domain.Capture) (domain.Capture, error)

	// Finalize writes evidence, the confidence derived from it, and the
	// completed status in one transaction. Confidence is never written
	// through any other path.
	Finalize(ctx context.Context, captureID string, fin CaptureFinalization) error

	MarkFailed(ctx context.Context, captureID string) error
}

// CaptureFinalization is the single atomic write that completes a capture.
type CaptureFinalization struct {
	Evidence        domain.Evidence
	Confidence      domain.ConfidenceLevel
	DurationMs      int64
	FrameCount      int
	IsPartial       bool
	CheckpointIndex int
	CompletedAt     time.Time
}

type ChallengeRepository interface {
	Create(ctx context.Context, challenge domain.Challenge) error

	// Consume atomically marks an outstanding challenge spent. A missing or
	// already-consumed challenge is ErrChallengeMismatch; an expired one is
	// ErrChallengeExpired.
	Consume(ctx context.Context, challengeID string, now time.Time) (*domain.Challenge, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.AuditEvent, error)
}

// BundleVerifier validates a platform attestation bundle against the
// trusted roots and the outstanding challenge.
type BundleVerifier interface {
	VerifyBundle(id attest.FormatID, certsDER [][]byte, challenge []byte, now time.Time) (*attest.Parsed, error)
}

// AssertionVerifier checks one per-capture assertion signature.
type AssertionVerifier interface {
	VerifyAssertion(publicKey, clientDataHash []byte, counter int64, signatureDER []byte) error
}

// ChainVerifier recomputes and checks a per-frame hash chain.
type ChainVerifier interface {
	VerifyFull(frames []hashchain.FrameInput, claimedFinalHash []byte, claimedCheckpoints []hashchain.Checkpoint) (*hashchain.Verification, error)
	VerifyPartial(frames []hashchain.FrameInput, claimedCheckpoints []hashchain.Checkpoint) (*hashchain.Verification, error)
}

// ReviewEngine evaluates the advisory detector-review policy.
type ReviewEngine interface {
	Evaluate(ctx context.Context, input domain.ReviewInput) (domain.ReviewEvaluation, error)
}

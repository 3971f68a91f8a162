package usecase

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/attest"
)

type RegisterDeviceRequest struct {
	Platform       string
	Model          string
	HasDepthSensor bool

	// ClaimedKeyID is the device's claim about its attestation key id. With
	// a bundle present it must match the key extracted from the chain; on
	// platforms without hardware attestation it is the only identity anchor
	// available.
	ClaimedKeyID string

	// Format and BundleCertsDER are empty when the platform offers no
	// hardware attestation: that is signal absence, not a failed bundle.
	Format         attest.FormatID
	BundleCertsDER [][]byte
	ChallengeID    string
}

type RegisterDevice struct {
	Devices    DeviceRepository
	Challenges ChallengeRepository
	Bundles    BundleVerifier
	Audit      *AuditEmitter
	Now        func() time.Time
}

// Execute runs initial attestation. A present-but-invalid bundle rejects
// the registration without creating a device; an absent bundle registers an
// unverified device with no public key, so sensorless platforms degrade via
// absence rather than a fabricated failure.
func (uc *RegisterDevice) Execute(ctx context.Context, req RegisterDeviceRequest) (*domain.Device, error) {
	if req.ClaimedKeyID == "" || req.Platform == "" || req.Model == "" {
		return nil, domain.ErrInvalidRequest
	}
	now := uc.now()

	device := domain.Device{
		AttestationKeyID: req.ClaimedKeyID,
		AttestationLevel: domain.AttestationLevelUnverified,
		Platform:         req.Platform,
		Model:            req.Model,
		HasDepthSensor:   req.HasDepthSensor,
		FirstSeenAt:      now,
		LastSeenAt:       now,
	}

	if len(req.BundleCertsDER) > 0 {
		parsed, err := uc.verifyBundle(ctx, req, now)
		if err != nil {
			uc.Audit.Emit(ctx, domain.AuditSystemDeviceID, domain.AuditRegistrationDenied, map[string]any{
				"claimed_key_id": req.ClaimedKeyID,
				"platform":       req.Platform,
				"reason":         err.Error(),
			})
			return nil, err
		}
		device.PublicKey = parsed.PublicKey
		device.AttestationKeyID = parsed.KeyID
		device.AttestationLevel = parsed.Level
		device.SecurityLevel = parsed.SecurityLevel
		if parsed.DeviceModel != "" && parsed.DeviceModel != req.Model {
			// The platform vouched for a different model than the client
			// claims; trust the attested one.
			device.Model = parsed.DeviceModel
		}
	}

	created, err := uc.Devices.Create(ctx, device)
	if err != nil {
		// Re-registration of an existing key id is an explicit separate
		// flow, never a silent overwrite.
		return nil, err
	}

	uc.Audit.Emit(ctx, created.ID, domain.AuditDeviceRegistered, map[string]any{
		"attestation_key_id": created.AttestationKeyID,
		"attestation_level":  string(created.AttestationLevel),
		"platform":           created.Platform,
		"model":              created.Model,
	})
	return &created, nil
}

func (uc *RegisterDevice) verifyBundle(ctx context.Context, req RegisterDeviceRequest, now time.Time) (*attest.Parsed, error) {
	if req.ChallengeID == "" {
		return nil, domain.ErrChallengeMismatch
	}
	challenge, err := uc.Challenges.Consume(ctx, req.ChallengeID, now)
	if err != nil {
		return nil, err
	}
	parsed, err := uc.Bundles.VerifyBundle(req.Format, req.BundleCertsDER, challenge.Nonce, now)
	if err != nil {
		return nil, err
	}
	if parsed.KeyID != req.ClaimedKeyID {
		return nil, domain.ErrAttestationChainInvalid
	}
	return parsed, nil
}

func (uc *RegisterDevice) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now().UTC()
}

// IssueChallenge mints a single-use registration challenge with the given
// TTL.
type IssueChallenge struct {
	Challenges ChallengeRepository
	TTL        time.Duration
	Now        func() time.Time
	NewID      func() (string, error)
	NewNonce   func() ([]byte, error)
}

func (uc *IssueChallenge) Execute(ctx context.Context) (*domain.Challenge, error) {
	now := time.Now().UTC()
	if uc.Now != nil {
		now = uc.Now()
	}
	ttl := uc.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	id, err := uc.NewID()
	if err != nil {
		return nil, err
	}
	nonce, err := uc.NewNonce()
	if err != nil {
		return nil, err
	}
	challenge := domain.Challenge{
		ID:        id,
		Nonce:     nonce,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := uc.Challenges.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

var errNoChallengeFactory = errors.New("challenge id and nonce factories are required")

// Validate reports misconfiguration early instead of at first request.
func (uc *IssueChallenge) Validate() error {
	if uc.NewID == nil || uc.NewNonce == nil {
		return errNoChallengeFactory
	}
	return nil
}

package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/attest"
)

type memDeviceRepo struct {
	mu      sync.Mutex
	nextID  int
	devices map[string]*domain.Device
	byKeyID map[string]string
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{
		devices: map[string]*domain.Device{},
		byKeyID: map[string]string{},
	}
}

func (r *memDeviceRepo) GetByID(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (r *memDeviceRepo) GetByAttestationKeyID(_ context.Context, keyID string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKeyID[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r.devices[id]
	return &copied, nil
}

func (r *memDeviceRepo) Create(_ context.Context, device domain.Device) (domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKeyID[device.AttestationKeyID]; exists {
		return domain.Device{}, domain.ErrDeviceExists
	}
	r.nextID++
	device.ID = fmt.Sprintf("dev-%d", r.nextID)
	r.devices[device.ID] = &device
	r.byKeyID[device.AttestationKeyID] = device.ID
	return device, nil
}

func (r *memDeviceRepo) AdvanceCounter(_ context.Context, deviceID string, presented int64, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return domain.ErrNotFound
	}
	if presented <= device.AssertionCounter {
		return domain.ErrReplayDetected
	}
	device.AssertionCounter = presented
	device.LastSeenAt = seenAt
	return nil
}

type memCaptureRepo struct {
	mu       sync.Mutex
	nextID   int
	captures map[string]*domain.Capture
	byHash   map[string]string
}

func newMemCaptureRepo() *memCaptureRepo {
	return &memCaptureRepo{
		captures: map[string]*domain.Capture{},
		byHash:   map[string]string{},
	}
}

func (r *memCaptureRepo) GetByID(_ context.Context, captureID string) (*domain.Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capture, ok := r.captures[captureID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *capture
	return &copied, nil
}

func (r *memCaptureRepo) Create(_ context.Context, capture domain.Capture) (domain.Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[capture.TargetMediaHash]; exists {
		return domain.Capture{}, domain.ErrDuplicateCapture
	}
	r.nextID++
	capture.ID = fmt.Sprintf("cap-%d", r.nextID)
	r.captures[capture.ID] = &capture
	r.byHash[capture.TargetMediaHash] = capture.ID
	return capture, nil
}

func (r *memCaptureRepo) Finalize(_ context.Context, captureID string, fin CaptureFinalization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	capture, ok := r.captures[captureID]
	if !ok {
		return domain.ErrNotFound
	}
	evidence := fin.Evidence
	capture.Evidence = &evidence
	capture.ConfidenceLevel = fin.Confidence
	capture.Status = domain.CaptureStatusCompleted
	capture.DurationMs = fin.DurationMs
	capture.FrameCount = fin.FrameCount
	capture.IsPartial = fin.IsPartial
	capture.CheckpointIndex = fin.CheckpointIndex
	completedAt := fin.CompletedAt
	capture.CompletedAt = &completedAt
	return nil
}

func (r *memCaptureRepo) MarkFailed(_ context.Context, captureID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	capture, ok := r.captures[captureID]
	if !ok {
		return domain.ErrNotFound
	}
	capture.Status = domain.CaptureStatusFailed
	return nil
}

type memChallengeRepo struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{challenges: map[string]*domain.Challenge{}}
}

func (r *memChallengeRepo) Create(_ context.Context, challenge domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := challenge
	r.challenges[challenge.ID] = &copied
	return nil
}

func (r *memChallengeRepo) Consume(_ context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge, ok := r.challenges[challengeID]
	if !ok || challenge.ConsumedAt != nil {
		return nil, domain.ErrChallengeMismatch
	}
	if now.After(challenge.ExpiresAt) {
		return nil, domain.ErrChallengeExpired
	}
	consumedAt := now
	challenge.ConsumedAt = &consumedAt
	copied := *challenge
	return &copied, nil
}

// memAuditRepo mirrors the persistent append: it assigns seq and the hash
// linkage so VerifyDeviceAuditChain can replay it.
type memAuditRepo struct {
	mu     sync.Mutex
	nextID int
	events map[string][]domain.AuditEvent
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{events: map[string][]domain.AuditEvent{}}
}

func (r *memAuditRepo) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event.ID = fmt.Sprintf("evt-%d", r.nextID)
	chain := r.events[event.DeviceID]
	event.Seq = int64(len(chain)) + 1
	event.PrevEventHash = ZeroAuditHash()
	if len(chain) > 0 {
		event.PrevEventHash = chain[len(chain)-1].EventHash
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	sum := sha256.Sum256(event.Payload)
	event.PayloadHash = hex.EncodeToString(sum[:])
	eventHash, err := AuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = eventHash
	r.events[event.DeviceID] = append(chain, event)
	return event, nil
}

func (r *memAuditRepo) ListByDevice(_ context.Context, deviceID string) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events[deviceID]...), nil
}

func (r *memAuditRepo) eventTypes(deviceID string) []domain.AuditEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEventType, 0, len(r.events[deviceID]))
	for _, event := range r.events[deviceID] {
		out = append(out, event.EventType)
	}
	return out
}

type stubBundleVerifier struct {
	parsed *attest.Parsed
	err    error
}

func (s *stubBundleVerifier) VerifyBundle(_ attest.FormatID, _ [][]byte, _ []byte, _ time.Time) (*attest.Parsed, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.parsed, nil
}

type stubReviewEngine struct {
	eval domain.ReviewEvaluation
	err  error
}

func (s *stubReviewEngine) Evaluate(_ context.Context, _ domain.ReviewInput) (domain.ReviewEvaluation, error) {
	if s.err != nil {
		return domain.ReviewEvaluation{}, s.err
	}
	return s.eval, nil
}

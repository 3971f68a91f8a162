package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"attestd/internal/config"
	"attestd/internal/domain"
	"attestd/internal/infra/hashchain"
	"attestd/internal/usecase"

	"github.com/gin-gonic/gin"
)

var serverTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]domain.Device
	byKeyID map[string]string
	nextID  int
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		devices: make(map[string]domain.Device),
		byKeyID: make(map[string]string),
	}
}

func (f *fakeDevices) GetByID(_ context.Context, deviceID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &device, nil
}

func (f *fakeDevices) GetByAttestationKeyID(_ context.Context, keyID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKeyID[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	device := f.devices[id]
	return &device, nil
}

func (f *fakeDevices) Create(_ context.Context, device domain.Device) (domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byKeyID[device.AttestationKeyID]; exists {
		return domain.Device{}, domain.ErrDeviceExists
	}
	f.nextID++
	device.ID = fmt.Sprintf("dev-%d", f.nextID)
	f.devices[device.ID] = device
	f.byKeyID[device.AttestationKeyID] = device.ID
	return device, nil
}

func (f *fakeDevices) AdvanceCounter(_ context.Context, deviceID string, presented int64, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceID]
	if !ok {
		return domain.ErrNotFound
	}
	if presented <= device.AssertionCounter {
		return domain.ErrReplayDetected
	}
	device.AssertionCounter = presented
	device.LastSeenAt = seenAt
	f.devices[deviceID] = device
	return nil
}

type fakeCaptures struct {
	mu       sync.Mutex
	captures map[string]domain.Capture
	byHash   map[string]string
	nextID   int
}

func newFakeCaptures() *fakeCaptures {
	return &fakeCaptures{
		captures: make(map[string]domain.Capture),
		byHash:   make(map[string]string),
	}
}

func (f *fakeCaptures) GetByID(_ context.Context, captureID string) (*domain.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	capture, ok := f.captures[captureID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &capture, nil
}

func (f *fakeCaptures) ListByDevice(_ context.Context, deviceID string) ([]domain.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Capture
	for _, capture := range f.captures {
		if capture.DeviceID == deviceID {
			out = append(out, capture)
		}
	}
	return out, nil
}

func (f *fakeCaptures) Create(_ context.Context, capture domain.Capture) (domain.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byHash[capture.TargetMediaHash]; exists {
		return domain.Capture{}, domain.ErrDuplicateCapture
	}
	f.nextID++
	capture.ID = fmt.Sprintf("cap-%d", f.nextID)
	f.captures[capture.ID] = capture
	f.byHash[capture.TargetMediaHash] = capture.ID
	return capture, nil
}

func (f *fakeCaptures) Finalize(_ context.Context, captureID string, fin usecase.CaptureFinalization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	capture, ok := f.captures[captureID]
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
	f.captures[captureID] = capture
	return nil
}

func (f *fakeCaptures) MarkFailed(_ context.Context, captureID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	capture, ok := f.captures[captureID]
	if !ok {
		return domain.ErrNotFound
	}
	capture.Status = domain.CaptureStatusFailed
	f.captures[captureID] = capture
	return nil
}

type fakeChallenges struct {
	mu         sync.Mutex
	challenges map[string]domain.Challenge
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{challenges: make(map[string]domain.Challenge)}
}

func (f *fakeChallenges) Create(_ context.Context, challenge domain.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges[challenge.ID] = challenge
	return nil
}

func (f *fakeChallenges) Consume(_ context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	challenge, ok := f.challenges[challengeID]
	if !ok || challenge.ConsumedAt != nil {
		return nil, domain.ErrChallengeMismatch
	}
	if !challenge.ExpiresAt.After(now) {
		return nil, domain.ErrChallengeExpired
	}
	consumedAt := now
	challenge.ConsumedAt = &consumedAt
	f.challenges[challengeID] = challenge
	return &challenge, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events map[string][]domain.AuditEvent
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{events: make(map[string][]domain.AuditEvent)}
}

func (f *fakeAudit) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chain := f.events[event.DeviceID]
	event.Seq = int64(len(chain)) + 1
	sum := sha256.Sum256(event.Payload)
	event.PayloadHash = hex.EncodeToString(sum[:])
	if event.Seq == 1 {
		event.PrevEventHash = usecase.ZeroAuditHash()
	} else {
		event.PrevEventHash = chain[len(chain)-1].EventHash
	}
	hash, err := usecase.AuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash
	f.events[event.DeviceID] = append(chain, event)
	return event, nil
}

func (f *fakeAudit) ListByDevice(_ context.Context, deviceID string) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEvent(nil), f.events[deviceID]...), nil
}

type fixedLimiter struct {
	limit int
	mu    sync.Mutex
	seen  map[string]int
}

func (l *fixedLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	allowed := l.seen[key] <= l.limit
	return domain.RateLimitDecision{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: serverTestNow.Add(time.Minute),
	}, nil
}

type serverHarness struct {
	server     *Server
	devices    *fakeDevices
	captures   *fakeCaptures
	challenges *fakeChallenges
	audit      *fakeAudit
}

func newServerHarness(t *testing.T, cfg config.Config, limiter domain.RateLimiter) *serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	devices := newFakeDevices()
	captures := newFakeCaptures()
	challenges := newFakeChallenges()
	audit := newFakeAudit()
	emitter := usecase.NewAuditEmitter(audit, nil)

	now := func() time.Time { return serverTestNow }
	var challengeSeq int
	challengeUC := &usecase.IssueChallenge{
		Challenges: challenges,
		TTL:        5 * time.Minute,
		Now:        now,
		NewID: func() (string, error) {
			challengeSeq++
			return fmt.Sprintf("chal-%d", challengeSeq), nil
		},
		NewNonce: func() ([]byte, error) {
			return bytes.Repeat([]byte{0xab}, 32), nil
		},
	}
	registerUC := &usecase.RegisterDevice{
		Devices:    devices,
		Challenges: challenges,
		Audit:      emitter,
		Now:        now,
	}
	processUC := &usecase.ProcessCapture{
		Devices:  devices,
		Captures: captures,
		Chains:   hashchain.Verifier{},
		Audit:    emitter,
		Now:      now,
	}

	server := NewServerWithDeps(cfg, ServerDeps{
		Register:    registerUC,
		Process:     processUC,
		Challenge:   challengeUC,
		Audit:       emitter,
		Devices:     devices,
		Captures:    captures,
		AuditEvents: audit,
		RateLimiter: limiter,
	})
	return &serverHarness{
		server:     server,
		devices:    devices,
		captures:   captures,
		challenges: challenges,
		audit:      audit,
	}
}

func (h *serverHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.server.r.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func registerBody(keyID string) map[string]any {
	return map[string]any{
		"platform":           "android",
		"model":              "Pixel 9",
		"has_depth_sensor":   true,
		"attestation_key_id": keyID,
	}
}

func mediaHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func photoBody(deviceID, hash string) map[string]any {
	return map[string]any{
		"device_id":         deviceID,
		"capture_type":      "photo",
		"target_media_hash": hash,
		"captured_at":       serverTestNow.Add(-time.Minute).Format(time.RFC3339),
		"depth_analysis": map[string]any{
			"status":               "pass",
			"depth_variance":       2.4,
			"depth_layers":         5,
			"edge_coherence":       0.9,
			"is_likely_real_scene": true,
		},
	}
}

func TestHealthz(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)
	w := h.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	decodeJSON(t, w, &resp)
	if resp["mode"] != "no-db" {
		t.Fatalf("expected no-db mode, got %q", resp["mode"])
	}
}

func TestIssueChallengeAndRegister(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	w := h.do(t, http.MethodPost, "/v1/attestation/challenge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var challenge challengeResponse
	decodeJSON(t, w, &challenge)
	if challenge.ChallengeID == "" || challenge.Nonce == "" {
		t.Fatalf("incomplete challenge response: %+v", challenge)
	}

	w = h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var device deviceResponse
	decodeJSON(t, w, &device)
	if device.DeviceID == "" {
		t.Fatal("expected device id")
	}
	if device.AttestationLevel != string(domain.AttestationLevelUnverified) {
		t.Fatalf("expected unverified registration, got %q", device.AttestationLevel)
	}

	w = h.do(t, http.MethodGet, "/v1/devices/"+device.DeviceID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRegisterDuplicateKeyConflicts(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	if w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1")); w.Code != http.StatusOK {
		t.Fatalf("first registration: %d: %s", w.Code, w.Body.String())
	}
	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp errorResponse
	decodeJSON(t, w, &resp)
	if resp.Code != "ALREADY_REGISTERED" {
		t.Fatalf("expected ALREADY_REGISTERED, got %q", resp.Code)
	}
}

func TestProcessPhotoEndToEnd(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	var device deviceResponse
	decodeJSON(t, w, &device)

	w = h.do(t, http.MethodPost, "/v1/captures:process", photoBody(device.DeviceID, mediaHash("photo-1")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp processCaptureResponse
	decodeJSON(t, w, &resp)
	if resp.Capture.Status != string(domain.CaptureStatusCompleted) {
		t.Fatalf("expected completed capture, got %q", resp.Capture.Status)
	}
	// Unverified device: attestation unavailable, depth is the single pass.
	if resp.Capture.ConfidenceLevel != string(domain.ConfidenceMedium) {
		t.Fatalf("expected MEDIUM confidence, got %q", resp.Capture.ConfidenceLevel)
	}
	if resp.Capture.Evidence == nil {
		t.Fatal("expected evidence in response")
	}

	w = h.do(t, http.MethodGet, "/v1/captures/"+resp.Capture.CaptureID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = h.do(t, http.MethodGet, "/v1/devices/"+device.DeviceID+"/captures", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed struct {
		Captures []captureResponse `json:"captures"`
	}
	decodeJSON(t, w, &listed)
	if len(listed.Captures) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(listed.Captures))
	}
}

func TestProcessDuplicateMediaHashConflicts(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	var device deviceResponse
	decodeJSON(t, w, &device)

	if w := h.do(t, http.MethodPost, "/v1/captures:process", photoBody(device.DeviceID, mediaHash("photo-1"))); w.Code != http.StatusOK {
		t.Fatalf("first capture: %d: %s", w.Code, w.Body.String())
	}
	w = h.do(t, http.MethodPost, "/v1/captures:process", photoBody(device.DeviceID, mediaHash("photo-1")))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp errorResponse
	decodeJSON(t, w, &resp)
	if resp.Code != "DUPLICATE_CAPTURE" {
		t.Fatalf("expected DUPLICATE_CAPTURE, got %q", resp.Code)
	}
}

func TestProcessVideoWithoutChainRejected(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	var device deviceResponse
	decodeJSON(t, w, &device)

	body := photoBody(device.DeviceID, mediaHash("video-1"))
	body["capture_type"] = "video"
	w = h.do(t, http.MethodPost, "/v1/captures:process", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorResponse
	decodeJSON(t, w, &resp)
	if resp.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %q", resp.Code)
	}
}

func TestProcessCaptureRateLimited(t *testing.T) {
	cfg := config.Config{RateLimitRequests: 1, RateLimitWindowSeconds: 60}
	h := newServerHarness(t, cfg, &fixedLimiter{limit: 1})

	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	var device deviceResponse
	decodeJSON(t, w, &device)

	if w := h.do(t, http.MethodPost, "/v1/captures:process", photoBody(device.DeviceID, mediaHash("photo-1"))); w.Code != http.StatusOK {
		t.Fatalf("first capture: %d: %s", w.Code, w.Body.String())
	}
	w = h.do(t, http.MethodPost, "/v1/captures:process", photoBody(device.DeviceID, mediaHash("photo-2")))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestAuditEventsListed(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	w := h.do(t, http.MethodPost, "/v1/devices:register", registerBody("key-1"))
	var device deviceResponse
	decodeJSON(t, w, &device)

	w = h.do(t, http.MethodGet, "/v1/devices/"+device.DeviceID+"/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed struct {
		Events []auditEventResponse `json:"events"`
	}
	decodeJSON(t, w, &listed)
	if len(listed.Events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(listed.Events))
	}
	if listed.Events[0].EventType != string(domain.AuditDeviceRegistered) {
		t.Fatalf("unexpected event type %q", listed.Events[0].EventType)
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := newServerHarness(t, config.Config{}, nil)

	for _, tt := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/devices:frobnicate"},
		{http.MethodGet, "/v1/nope"},
		{http.MethodGet, "/v1/captures/missing"},
	} {
		w := h.do(t, tt.method, tt.path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tt.method, tt.path, w.Code)
		}
	}
}

package http

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/attest"
	"attestd/internal/infra/hashchain"
	"attestd/internal/infra/ratelimit"
	"attestd/internal/usecase"

	"github.com/gin-gonic/gin"
)

type DeviceStore interface {
	GetByID(ctx context.Context, deviceID string) (*domain.Device, error)
}

type CaptureStore interface {
	GetByID(ctx context.Context, captureID string) (*domain.Capture, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.Capture, error)
}

type AuditStore interface {
	ListByDevice(ctx context.Context, deviceID string) ([]domain.AuditEvent, error)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type challengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
	ExpiresAt   string `json:"expires_at"`
}

type registerDeviceRequest struct {
	Platform         string   `json:"platform"`
	Model            string   `json:"model"`
	HasDepthSensor   bool     `json:"has_depth_sensor"`
	AttestationKeyID string   `json:"attestation_key_id"`
	Format           string   `json:"format,omitempty"`
	BundleCertsDER   []string `json:"bundle_certs_der,omitempty"`
	ChallengeID      string   `json:"challenge_id,omitempty"`
}

type deviceResponse struct {
	DeviceID         string `json:"device_id"`
	AttestationKeyID string `json:"attestation_key_id"`
	AttestationLevel string `json:"attestation_level"`
	SecurityLevel    string `json:"security_level,omitempty"`
	Platform         string `json:"platform"`
	Model            string `json:"model"`
	HasDepthSensor   bool   `json:"has_depth_sensor"`
	AssertionCounter int64  `json:"assertion_counter"`
	FirstSeenAt      string `json:"first_seen_at"`
	LastSeenAt       string `json:"last_seen_at"`
}

type processCaptureRequest struct {
	DeviceID        string `json:"device_id"`
	CaptureType     string `json:"capture_type"`
	TargetMediaHash string `json:"target_media_hash"`
	CapturedAt      string `json:"captured_at,omitempty"`
	ClaimedModel    string `json:"claimed_model,omitempty"`

	Assertion *assertionInput          `json:"assertion,omitempty"`
	Chain     *chainInput              `json:"chain,omitempty"`
	Depth     *depthInput              `json:"depth_analysis,omitempty"`
	Detectors *domain.DetectionResults `json:"detectors,omitempty"`
}

type assertionInput struct {
	ClientDataHash string `json:"client_data_hash"`
	Counter        int64  `json:"counter"`
	Signature      string `json:"signature"`
}

type chainInput struct {
	Frames           []frameInput      `json:"frames"`
	ClaimedFinalHash string            `json:"claimed_final_hash,omitempty"`
	Checkpoints      []checkpointInput `json:"checkpoints,omitempty"`
	IsPartial        bool              `json:"is_partial"`
}

type frameInput struct {
	RGBHash     string `json:"rgb_hash"`
	DepthHash   string `json:"depth_hash,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type checkpointInput struct {
	Index       int    `json:"index"`
	FrameNumber int    `json:"frame_number"`
	Hash        string `json:"hash"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type depthInput struct {
	Status            string  `json:"status"`
	DepthVariance     float64 `json:"depth_variance"`
	DepthLayers       int     `json:"depth_layers"`
	EdgeCoherence     float64 `json:"edge_coherence"`
	IsLikelyRealScene bool    `json:"is_likely_real_scene"`
}

type captureResponse struct {
	CaptureID       string           `json:"capture_id"`
	DeviceID        string           `json:"device_id"`
	CaptureType     string           `json:"capture_type"`
	TargetMediaHash string           `json:"target_media_hash"`
	Status          string           `json:"status"`
	ConfidenceLevel string           `json:"confidence_level,omitempty"`
	Evidence        *domain.Evidence `json:"evidence,omitempty"`
	DurationMs      int64            `json:"duration_ms,omitempty"`
	FrameCount      int              `json:"frame_count,omitempty"`
	IsPartial       bool             `json:"is_partial,omitempty"`
	CheckpointIndex int              `json:"checkpoint_index"`
	UploadedAt      string           `json:"uploaded_at"`
	CompletedAt     string           `json:"completed_at,omitempty"`
}

type reviewResponse struct {
	BundleID   string              `json:"bundle_id"`
	BundleHash string              `json:"bundle_hash"`
	Result     domain.ReviewResult `json:"result"`
}

type processCaptureResponse struct {
	Capture captureResponse `json:"capture"`
	Review  *reviewResponse `json:"review,omitempty"`
}

type auditEventResponse struct {
	Seq           int64           `json:"seq"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
	CreatedAt     string          `json:"created_at"`
}

func (s *Server) handleIssueChallenge(c *gin.Context) {
	if s.challengeUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	challenge, err := s.challengeUC.Execute(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeResponse{
		ChallengeID: challenge.ID,
		Nonce:       base64.StdEncoding.EncodeToString(challenge.Nonce),
		ExpiresAt:   challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleResourceAction(c *gin.Context) {
	segment := c.Param("resource_action")
	if !strings.Contains(segment, ":") {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	switch segment {
	case "devices:register":
		s.handleRegisterDevice(c)
	case "captures:process":
		s.handleProcessCapture(c)
	default:
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleRegisterDevice(c *gin.Context) {
	if s.registerUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	certs := make([][]byte, 0, len(req.BundleCertsDER))
	for _, encoded := range req.BundleCertsDER {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_ENCODING", "invalid certificate encoding")
			return
		}
		certs = append(certs, der)
	}
	device, err := s.registerUC.Execute(c.Request.Context(), usecase.RegisterDeviceRequest{
		Platform:       req.Platform,
		Model:          req.Model,
		HasDepthSensor: req.HasDepthSensor,
		ClaimedKeyID:   req.AttestationKeyID,
		Format:         attest.FormatID(req.Format),
		BundleCertsDER: certs,
		ChallengeID:    req.ChallengeID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildDeviceResponse(device))
}

func (s *Server) handleProcessCapture(c *gin.Context) {
	if s.processUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req processCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	captureType := domain.CaptureType(req.CaptureType)
	if !s.allowUpload(c, req.DeviceID, captureType) {
		return
	}
	ucReq, err := parseProcessRequest(req, captureType)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ENCODING", err.Error())
		return
	}
	result, err := s.processUC.Execute(c.Request.Context(), ucReq)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := processCaptureResponse{Capture: buildCaptureResponse(result.Capture)}
	if result.Review != nil {
		resp.Review = &reviewResponse{
			BundleID:   result.Review.BundleID,
			BundleHash: result.Review.BundleHash,
			Result:     result.Review.Result,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetDevice(c *gin.Context) {
	if s.devices == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	device, err := s.devices.GetByID(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildDeviceResponse(device))
}

func (s *Server) handleGetCapture(c *gin.Context) {
	if s.captures == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	capture, err := s.captures.GetByID(c.Request.Context(), c.Param("capture_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildCaptureResponse(*capture))
}

func (s *Server) handleListCaptures(c *gin.Context) {
	if s.captures == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	captures, err := s.captures.ListByDevice(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]captureResponse, 0, len(captures))
	for _, capture := range captures {
		out = append(out, buildCaptureResponse(capture))
	}
	c.JSON(http.StatusOK, gin.H{"captures": out})
}

func (s *Server) handleListAuditEvents(c *gin.Context) {
	if s.events == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	events, err := s.events.ListByDevice(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, auditEventResponse{
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			Payload:       json.RawMessage(event.Payload),
			PayloadHash:   event.PayloadHash,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) allowUpload(c *gin.Context, deviceID string, captureType domain.CaptureType) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := ratelimit.UploadKey(deviceID, captureType)
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	if !decision.Allowed {
		retryAfter := int(time.Until(decision.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "upload rate limit exceeded")
		return false
	}
	return true
}

func parseProcessRequest(req processCaptureRequest, captureType domain.CaptureType) (usecase.ProcessCaptureRequest, error) {
	out := usecase.ProcessCaptureRequest{
		DeviceID:        req.DeviceID,
		CaptureType:     captureType,
		TargetMediaHash: req.TargetMediaHash,
		ClaimedModel:    req.ClaimedModel,
		Detectors:       req.Detectors,
	}
	if req.CapturedAt != "" {
		capturedAt, err := time.Parse(time.RFC3339, req.CapturedAt)
		if err != nil {
			return out, errors.New("invalid captured_at")
		}
		out.CapturedAt = capturedAt.UTC()
	}
	if req.Assertion != nil {
		clientDataHash, err := hex.DecodeString(req.Assertion.ClientDataHash)
		if err != nil {
			return out, errors.New("invalid client_data_hash")
		}
		signature, err := base64.StdEncoding.DecodeString(req.Assertion.Signature)
		if err != nil {
			return out, errors.New("invalid assertion signature")
		}
		out.Assertion = &usecase.AssertionSubmission{
			ClientDataHash: clientDataHash,
			Counter:        req.Assertion.Counter,
			SignatureDER:   signature,
		}
	}
	if req.Chain != nil {
		chain, err := parseChainInput(*req.Chain)
		if err != nil {
			return out, err
		}
		out.Chain = chain
	}
	if req.Depth != nil {
		out.Depth = &usecase.DepthAnalysisSubmission{
			Status:            domain.SignalStatus(req.Depth.Status),
			DepthVariance:     req.Depth.DepthVariance,
			DepthLayers:       req.Depth.DepthLayers,
			EdgeCoherence:     req.Depth.EdgeCoherence,
			IsLikelyRealScene: req.Depth.IsLikelyRealScene,
		}
	}
	return out, nil
}

func parseChainInput(input chainInput) (*usecase.ChainSubmission, error) {
	frames := make([]hashchain.FrameInput, 0, len(input.Frames))
	for _, frame := range input.Frames {
		rgb, err := hex.DecodeString(frame.RGBHash)
		if err != nil {
			return nil, errors.New("invalid frame rgb_hash")
		}
		var depth []byte
		if frame.DepthHash != "" {
			depth, err = hex.DecodeString(frame.DepthHash)
			if err != nil {
				return nil, errors.New("invalid frame depth_hash")
			}
		}
		frames = append(frames, hashchain.FrameInput{
			RGBHash:     rgb,
			DepthHash:   depth,
			TimestampMs: frame.TimestampMs,
		})
	}
	var finalHash []byte
	if input.ClaimedFinalHash != "" {
		decoded, err := hex.DecodeString(input.ClaimedFinalHash)
		if err != nil {
			return nil, errors.New("invalid claimed_final_hash")
		}
		finalHash = decoded
	}
	checkpoints := make([]hashchain.Checkpoint, 0, len(input.Checkpoints))
	for _, cp := range input.Checkpoints {
		hash, err := hex.DecodeString(cp.Hash)
		if err != nil {
			return nil, errors.New("invalid checkpoint hash")
		}
		checkpoints = append(checkpoints, hashchain.Checkpoint{
			Index:       cp.Index,
			FrameNumber: cp.FrameNumber,
			Hash:        hash,
			TimestampMs: cp.TimestampMs,
		})
	}
	return &usecase.ChainSubmission{
		Frames:           frames,
		ClaimedFinalHash: finalHash,
		Checkpoints:      checkpoints,
		IsPartial:        input.IsPartial,
	}, nil
}

func buildDeviceResponse(device *domain.Device) deviceResponse {
	return deviceResponse{
		DeviceID:         device.ID,
		AttestationKeyID: device.AttestationKeyID,
		AttestationLevel: string(device.AttestationLevel),
		SecurityLevel:    device.SecurityLevel,
		Platform:         device.Platform,
		Model:            device.Model,
		HasDepthSensor:   device.HasDepthSensor,
		AssertionCounter: device.AssertionCounter,
		FirstSeenAt:      device.FirstSeenAt.UTC().Format(time.RFC3339),
		LastSeenAt:       device.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func buildCaptureResponse(capture domain.Capture) captureResponse {
	out := captureResponse{
		CaptureID:       capture.ID,
		DeviceID:        capture.DeviceID,
		CaptureType:     string(capture.CaptureType),
		TargetMediaHash: capture.TargetMediaHash,
		Status:          string(capture.Status),
		ConfidenceLevel: string(capture.ConfidenceLevel),
		Evidence:        capture.Evidence,
		DurationMs:      capture.DurationMs,
		FrameCount:      capture.FrameCount,
		IsPartial:       capture.IsPartial,
		CheckpointIndex: capture.CheckpointIndex,
		UploadedAt:      capture.UploadedAt.UTC().Format(time.RFC3339),
	}
	if capture.CompletedAt != nil {
		out.CompletedAt = capture.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrAttestationChainInvalid):
		status, code = http.StatusBadRequest, "ATTESTATION_CHAIN_INVALID"
	case errors.Is(err, domain.ErrChallengeMismatch):
		status, code = http.StatusBadRequest, "CHALLENGE_MISMATCH"
	case errors.Is(err, domain.ErrChallengeExpired):
		status, code = http.StatusBadRequest, "CHALLENGE_EXPIRED"
	case errors.Is(err, domain.ErrHashChainBroken):
		status, code = http.StatusBadRequest, "HASH_CHAIN_BROKEN"
	case errors.Is(err, domain.ErrHashChainEmpty):
		status, code = http.StatusBadRequest, "HASH_CHAIN_EMPTY"
	case errors.Is(err, domain.ErrReplayDetected):
		status, code = http.StatusConflict, "REPLAY_DETECTED"
	case errors.Is(err, domain.ErrDeviceExists):
		status, code = http.StatusConflict, "ALREADY_REGISTERED"
	case errors.Is(err, domain.ErrDuplicateCapture):
		status, code = http.StatusConflict, "DUPLICATE_CAPTURE"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

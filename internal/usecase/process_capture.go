package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/hashchain"
)

const DefaultMaxTimestampDelta = 300 * time.Second

// AssertionSubmission is the per-capture proof that the registered hardware
// key signed this upload.
type AssertionSubmission struct {
	ClientDataHash []byte
	Counter        int64
	SignatureDER   []byte
}

// ChainSubmission carries the recomputation inputs for a video capture's
// frame hash chain.
type ChainSubmission struct {
	Frames           []hashchain.FrameInput
	ClaimedFinalHash []byte
	Checkpoints      []hashchain.Checkpoint
	IsPartial        bool
}

// DepthAnalysisSubmission is the depth collaborator's verdict, consumed
// opaquely. IsLikelyRealScene is never re-derived here.
type DepthAnalysisSubmission struct {
	Status            domain.SignalStatus
	DepthVariance     float64
	DepthLayers       int
	EdgeCoherence     float64
	IsLikelyRealScene bool
}

type ProcessCaptureRequest struct {
	DeviceID        string
	CaptureType     domain.CaptureType
	TargetMediaHash string
	CapturedAt      time.Time
	ClaimedModel    string

	// Assertion is nil when the platform has no hardware-backed key. On a
	// verified device that is an explicit failure, not absence.
	Assertion *AssertionSubmission

	// Chain is required for video captures and rejected for photos.
	Chain *ChainSubmission

	Depth     *DepthAnalysisSubmission
	Detectors *domain.DetectionResults
}

type ProcessCaptureResult struct {
	Capture domain.Capture
	Review  *domain.ReviewEvaluation
}

// ProcessCapture runs the full verification pipeline for one upload: chain
// verification for video, assertion check with atomic counter advancement,
// evidence assembly, confidence aggregation, and the single finalizing
// write.
type ProcessCapture struct {
	Devices    DeviceRepository
	Captures   CaptureRepository
	Assertions AssertionVerifier
	Chains     ChainVerifier
	Review     ReviewEngine
	Audit      *AuditEmitter

	MaxTimestampDelta time.Duration
	Logger            *log.Logger
	Now               func() time.Time
}

func (uc *ProcessCapture) Execute(ctx context.Context, req ProcessCaptureRequest) (*ProcessCaptureResult, error) {
	if err := validateProcessRequest(req); err != nil {
		return nil, err
	}
	now := uc.now()

	device, err := uc.Devices.GetByID(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	capture, err := uc.Captures.Create(ctx, domain.Capture{
		DeviceID:        device.ID,
		CaptureType:     req.CaptureType,
		TargetMediaHash: req.TargetMediaHash,
		Status:          domain.CaptureStatusProcessing,
		CheckpointIndex: -1,
		UploadedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	verification, err := uc.verifyChain(req)
	if err != nil {
		// An unrecoverable chain failure is a processing failure of the
		// capture itself, not a gradable evidence section.
		if failErr := uc.Captures.MarkFailed(ctx, capture.ID); failErr != nil {
			uc.logf("capture %s: mark failed: %v", capture.ID, failErr)
		}
		uc.Audit.Emit(ctx, device.ID, domain.AuditCaptureFailed, map[string]any{
			"capture_id":        capture.ID,
			"target_media_hash": req.TargetMediaHash,
			"reason":            err.Error(),
		})
		return nil, err
	}

	evidence := domain.Evidence{
		HardwareAttestation: uc.attestationEvidence(ctx, device, req.Assertion, now),
		DepthAnalysis:       depthEvidence(req.Depth),
		Metadata:            uc.metadataEvidence(device, req, now),
		SupportingDetectors: detectorEvidence(req.Detectors),
	}

	confidence, err := ComputeConfidence(evidence)
	if err != nil {
		return nil, err
	}

	fin := CaptureFinalization{
		Evidence:        evidence,
		Confidence:      confidence,
		CheckpointIndex: -1,
		CompletedAt:     now,
	}
	if verification != nil {
		fin.DurationMs = verification.DurationMs
		fin.FrameCount = verification.FrameCount
		fin.IsPartial = verification.IsPartial
		fin.CheckpointIndex = verification.CheckpointIndex
	}
	if err := uc.Captures.Finalize(ctx, capture.ID, fin); err != nil {
		return nil, err
	}

	uc.Audit.Emit(ctx, device.ID, domain.AuditCaptureProcessed, map[string]any{
		"capture_id":        capture.ID,
		"target_media_hash": req.TargetMediaHash,
		"capture_type":      string(req.CaptureType),
		"confidence":        string(confidence),
		"is_partial":        fin.IsPartial,
	})

	out, err := uc.Captures.GetByID(ctx, capture.ID)
	if err != nil {
		return nil, err
	}
	result := &ProcessCaptureResult{Capture: *out}
	result.Review = uc.evaluateReview(ctx, req.CaptureType, confidence, req.Detectors)
	return result, nil
}

func validateProcessRequest(req ProcessCaptureRequest) error {
	if req.DeviceID == "" || req.TargetMediaHash == "" {
		return domain.ErrInvalidRequest
	}
	switch req.CaptureType {
	case domain.CaptureTypePhoto:
		if req.Chain != nil {
			return domain.ErrInvalidRequest
		}
	case domain.CaptureTypeVideo:
		if req.Chain == nil {
			return domain.ErrInvalidRequest
		}
	default:
		return domain.ErrInvalidRequest
	}
	if req.Depth != nil && !req.Depth.Status.Valid() {
		return domain.ErrInvalidRequest
	}
	return nil
}

func (uc *ProcessCapture) verifyChain(req ProcessCaptureRequest) (*hashchain.Verification, error) {
	if req.Chain == nil {
		return nil, nil
	}
	if req.Chain.IsPartial {
		return uc.Chains.VerifyPartial(req.Chain.Frames, req.Chain.Checkpoints)
	}
	verification, err := uc.Chains.VerifyFull(req.Chain.Frames, req.Chain.ClaimedFinalHash, req.Chain.Checkpoints)
	if errors.Is(err, domain.ErrHashChainBroken) {
		// A broken tail downgrades the submission to partial acceptance at
		// the last intact checkpoint instead of rejecting it outright.
		if salvaged, salvageErr := uc.Chains.VerifyPartial(req.Chain.Frames, req.Chain.Checkpoints); salvageErr == nil {
			return salvaged, nil
		}
	}
	return verification, err
}

// attestationEvidence grades the assertion. Absence of a hardware key on an
// unverified device is unavailable; everything else that goes wrong is an
// explicit fail. A replayed counter additionally leaves the stored counter
// untouched.
func (uc *ProcessCapture) attestationEvidence(ctx context.Context, device *domain.Device, sub *AssertionSubmission, now time.Time) *domain.HardwareAttestationEvidence {
	ev := &domain.HardwareAttestationEvidence{
		Level:       device.AttestationLevel,
		DeviceModel: device.Model,
		KeyID:       device.AttestationKeyID,
	}
	if len(device.PublicKey) == 0 {
		if sub == nil {
			ev.Status = domain.SignalUnavailable
			return ev
		}
		// An assertion against a device that never attested cannot be
		// checked; treating it as absence would let anyone skip attestation.
		ev.Status = domain.SignalFail
		return ev
	}
	if sub == nil {
		ev.Status = domain.SignalFail
		return ev
	}
	if !device.AttestationLevel.HardwareBacked() {
		// A stored key without a hardware-backed level never happened through
		// registration; grade it down rather than trusting the signature.
		ev.Status = domain.SignalFail
		return ev
	}
	if err := uc.Assertions.VerifyAssertion(device.PublicKey, sub.ClientDataHash, sub.Counter, sub.SignatureDER); err != nil {
		uc.logf("device %s: assertion signature rejected: %v", device.ID, err)
		ev.Status = domain.SignalFail
		return ev
	}
	if err := uc.Devices.AdvanceCounter(ctx, device.ID, sub.Counter, now); err != nil {
		if errors.Is(err, domain.ErrReplayDetected) {
			uc.Audit.Emit(ctx, device.ID, domain.AuditAssertionReplayed, map[string]any{
				"presented_counter": sub.Counter,
				"stored_counter":    device.AssertionCounter,
			})
		} else {
			uc.logf("device %s: advance counter: %v", device.ID, err)
		}
		ev.Status = domain.SignalFail
		return ev
	}
	ev.Status = domain.SignalPass
	return ev
}

func depthEvidence(sub *DepthAnalysisSubmission) *domain.DepthAnalysisEvidence {
	if sub == nil {
		return &domain.DepthAnalysisEvidence{Status: domain.SignalUnavailable}
	}
	return &domain.DepthAnalysisEvidence{
		Status:            sub.Status,
		DepthVariance:     sub.DepthVariance,
		DepthLayers:       sub.DepthLayers,
		EdgeCoherence:     sub.EdgeCoherence,
		IsLikelyRealScene: sub.IsLikelyRealScene,
	}
}

func (uc *ProcessCapture) metadataEvidence(device *domain.Device, req ProcessCaptureRequest, now time.Time) *domain.MetadataEvidence {
	ev := &domain.MetadataEvidence{
		ModelValid:          req.ClaimedModel == "" || req.ClaimedModel == device.Model,
		ModelHasDepthSensor: device.HasDepthSensor,
	}
	if req.CapturedAt.IsZero() {
		ev.Status = domain.SignalUnavailable
		ev.TimestampValid = true
		return ev
	}
	maxDelta := uc.MaxTimestampDelta
	if maxDelta <= 0 {
		maxDelta = DefaultMaxTimestampDelta
	}
	delta := now.Sub(req.CapturedAt)
	if delta < 0 {
		delta = -delta
	}
	ev.TimestampDeltaSeconds = delta.Seconds()
	ev.TimestampValid = delta <= maxDelta
	if ev.TimestampValid && ev.ModelValid {
		ev.Status = domain.SignalPass
	} else {
		ev.Status = domain.SignalFail
	}
	return ev
}

func detectorEvidence(results *domain.DetectionResults) *domain.SupportingDetectorEvidence {
	if results == nil {
		return &domain.SupportingDetectorEvidence{Status: domain.SignalUnavailable}
	}
	status := domain.SignalPass
	if results.ScreenSuspected {
		status = domain.SignalFail
	}
	return &domain.SupportingDetectorEvidence{
		Status:          status,
		MoireScore:      results.MoireScore,
		TextureScore:    results.TextureScore,
		ArtifactScore:   results.ArtifactScore,
		ScreenSuspected: results.ScreenSuspected,
	}
}

// evaluateReview runs the advisory policy. It never fails the capture and
// never touches confidence.
func (uc *ProcessCapture) evaluateReview(ctx context.Context, captureType domain.CaptureType, confidence domain.ConfidenceLevel, detectors *domain.DetectionResults) *domain.ReviewEvaluation {
	if uc.Review == nil || detectors == nil {
		return nil
	}
	eval, err := uc.Review.Evaluate(ctx, domain.ReviewInput{
		CaptureType: string(captureType),
		Confidence:  string(confidence),
		Detectors:   detectors,
	})
	if err != nil {
		uc.logf("review policy evaluation failed: %v", err)
		return nil
	}
	return &eval
}

func (uc *ProcessCapture) logf(format string, args ...any) {
	if uc.Logger != nil {
		uc.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (uc *ProcessCapture) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now().UTC()
}

package domain

import "time"

type CaptureType string

const (
	CaptureTypePhoto CaptureType = "photo"
	CaptureTypeVideo CaptureType = "video"
)

type CaptureStatus string

const (
	CaptureStatusPending    CaptureStatus = "pending"
	CaptureStatusProcessing CaptureStatus = "processing"
	CaptureStatusCompleted  CaptureStatus = "completed"
	CaptureStatusFailed     CaptureStatus = "failed"
)

type ConfidenceLevel string

const (
	ConfidenceHigh       ConfidenceLevel = "HIGH"
	ConfidenceMedium     ConfidenceLevel = "MEDIUM"
	ConfidenceLow        ConfidenceLevel = "LOW"
	ConfidenceSuspicious ConfidenceLevel = "SUSPICIOUS"
)

// Capture is one user-submitted photo or video. TargetMediaHash is globally
// unique and enforces exactly-once processing per distinct media.
// ConfidenceLevel is always derived from Evidence at finalization time and is
// never written on its own.
type Capture struct {
	ID              string
	DeviceID        string
	CaptureType     CaptureType
	TargetMediaHash string
	Evidence        *Evidence
	ConfidenceLevel ConfidenceLevel
	Status          CaptureStatus

	DurationMs      int64
	FrameCount      int
	IsPartial       bool
	CheckpointIndex int

	UploadedAt  time.Time
	CompletedAt *time.Time
}

// DetectionResults is the optional supporting-detector payload attached to a
// capture upload. Advisory only; it never feeds the confidence precedence.
type DetectionResults struct {
	MoireScore      float64 `json:"moire_score"`
	TextureScore    float64 `json:"texture_score"`
	ArtifactScore   float64 `json:"artifact_score"`
	ScreenSuspected bool    `json:"screen_suspected"`
}

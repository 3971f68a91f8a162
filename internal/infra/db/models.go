package db

import "time"

type DeviceModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	AttestationKeyID string    `gorm:"uniqueIndex;index:idx_devices_key_counter,priority:1;not null"`
	PublicKey        []byte    `gorm:"type:bytea"`
	AssertionCounter int64     `gorm:"index:idx_devices_key_counter,priority:2;not null;default:0"`
	AttestationLevel string    `gorm:"not null"`
	SecurityLevel    *string
	Platform         string    `gorm:"not null"`
	Model            string    `gorm:"not null"`
	HasDepthSensor   bool      `gorm:"not null;default:false"`
	FirstSeenAt      time.Time `gorm:"not null"`
	LastSeenAt       time.Time `gorm:"not null"`
}

func (DeviceModel) TableName() string { return "devices" }

type CaptureModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	DeviceID        string  `gorm:"type:uuid;index:idx_captures_device_type_uploaded,priority:1;not null"`
	CaptureType     string  `gorm:"index:idx_captures_device_type_uploaded,priority:2;index:idx_captures_capture_type;not null"`
	TargetMediaHash string  `gorm:"uniqueIndex;not null"`
	EvidenceJSON    []byte  `gorm:"type:jsonb"`
	ConfidenceLevel *string `gorm:"index"`
	Status          string  `gorm:"index;not null"`
	DurationMs      int64   `gorm:"not null;default:0"`
	FrameCount      int     `gorm:"not null;default:0"`
	IsPartial       bool    `gorm:"not null;default:false"`
	CheckpointIndex int     `gorm:"not null;default:-1"`

	UploadedAt  time.Time `gorm:"index:idx_captures_device_type_uploaded,priority:3;not null"`
	CompletedAt *time.Time
}

func (CaptureModel) TableName() string { return "captures" }

type ChallengeModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Nonce      []byte    `gorm:"type:bytea;not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (ChallengeModel) TableName() string { return "challenges" }

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	DeviceID      string    `gorm:"uniqueIndex:idx_audit_events_device_seq,priority:1;not null"`
	Seq           int64     `gorm:"uniqueIndex:idx_audit_events_device_seq,priority:2;not null"`
	EventType     string    `gorm:"not null"`
	PayloadJSON   []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// DeviceAuditSeqModel is the per-device sequence row locked while appending
// one audit event.
type DeviceAuditSeqModel struct {
	DeviceID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"not null"`
}

func (DeviceAuditSeqModel) TableName() string { return "device_audit_seq" }

package domain

import "time"

const AuditChainVersion = "audit.v1"

// AuditSystemDeviceID scopes audit events that precede any device record,
// such as rejected registrations.
const AuditSystemDeviceID = "system"

type AuditEventType string

const (
	AuditDeviceRegistered   AuditEventType = "device.registered"
	AuditRegistrationDenied AuditEventType = "device.registration_denied"
	AuditCaptureProcessed   AuditEventType = "capture.processed"
	AuditCaptureFailed      AuditEventType = "capture.failed"
	AuditAssertionReplayed  AuditEventType = "assertion.replay_detected"
)

// AuditEvent is one link of the per-device audit chain. Seq starts at 1 and
// EventHash covers PrevEventHash, so any rewrite of history is detectable by
// replaying the chain.
type AuditEvent struct {
	ID            string
	DeviceID      string
	Seq           int64
	EventType     AuditEventType
	Payload       []byte
	PayloadHash   string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}

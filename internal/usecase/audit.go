package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"attestd/internal/domain"
)

// AuditEmitter appends events to the per-device audit chain. Emission is
// best effort: a failed append is logged and never fails the operation that
// produced it, because the primary write has already committed.
type AuditEmitter struct {
	Repo   AuditEventRepository
	Logger *log.Logger
	Now    func() time.Time
}

func NewAuditEmitter(repo AuditEventRepository, logger *log.Logger) *AuditEmitter {
	if logger == nil {
		logger = log.Default()
	}
	return &AuditEmitter{Repo: repo, Logger: logger}
}

func (e *AuditEmitter) Emit(ctx context.Context, deviceID string, eventType domain.AuditEventType, payload map[string]any) {
	if e == nil || e.Repo == nil {
		return
	}
	if deviceID == "" {
		deviceID = domain.AuditSystemDeviceID
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		e.Logger.Printf("audit: encode %s payload: %v", eventType, err)
		return
	}
	event := domain.AuditEvent{
		DeviceID:  deviceID,
		EventType: eventType,
		Payload:   payloadJSON,
		CreatedAt: e.now().UTC(),
	}
	if _, err := e.Repo.Append(ctx, event); err != nil {
		e.Logger.Printf("audit: append %s for device %s: %v", eventType, deviceID, err)
	}
}

func (e *AuditEmitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// VerifyDeviceAuditChain replays a device's audit chain from seq 1 and
// checks every link: sequence continuity, prev-hash linkage, payload hash,
// and the event hash over the canonical header.
func VerifyDeviceAuditChain(ctx context.Context, repo AuditEventRepository, deviceID string) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	if deviceID == "" {
		deviceID = domain.AuditSystemDeviceID
	}
	events, err := repo.ListByDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	expectedSeq := int64(1)
	prevHash := ZeroAuditHash()
	for _, event := range events {
		if event.DeviceID != deviceID {
			return fmt.Errorf("audit chain device mismatch at seq %d", event.Seq)
		}
		if event.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		if sha256Hex(event.Payload) != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		if event.CreatedAt.IsZero() {
			return fmt.Errorf("audit chain missing created_at at seq %d", event.Seq)
		}
		expectedHash, err := AuditEventHash(event)
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if expectedHash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}

// AuditEventHash computes the chain hash over a fixed canonical header, so
// the digest is stable across JSON library and field-order changes.
func AuditEventHash(event domain.AuditEvent) (string, error) {
	if event.DeviceID == "" || event.EventType == "" {
		return "", errors.New("audit event missing device_id or event_type")
	}
	if event.PayloadHash == "" || event.PrevEventHash == "" {
		return "", errors.New("audit event missing payload_hash or prev_event_hash")
	}
	header := chainHeader{
		Version:       domain.AuditChainVersion,
		DeviceID:      event.DeviceID,
		Seq:           event.Seq,
		EventType:     string(event.EventType),
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return sha256Hex(header.CanonicalJSON()), nil
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func ZeroAuditHash() string {
	return "0000000000000000000000000000000000000000000000000000000000000000"
}

type chainHeader struct {
	Version       string
	DeviceID      string
	Seq           int64
	EventType     string
	PayloadHash   string
	PrevEventHash string
	CreatedAt     string
}

// CanonicalJSON serializes the header with keys in a fixed order.
func (c chainHeader) CanonicalJSON() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "created_at", c.CreatedAt, false)
	writeKV(buf, "device_id", c.DeviceID, false)
	writeKV(buf, "event_type", c.EventType, false)
	writeKV(buf, "payload_hash", c.PayloadHash, false)
	writeKV(buf, "prev_event_hash", c.PrevEventHash, false)
	writeKVNumber(buf, "seq", c.Seq, false)
	writeKV(buf, "v", c.Version, true)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

package domain

import "time"

type AttestationLevel string

const (
	AttestationLevelUnverified    AttestationLevel = "unverified"
	AttestationLevelTEE           AttestationLevel = "tee"
	AttestationLevelStrongbox     AttestationLevel = "strongbox"
	AttestationLevelSecureEnclave AttestationLevel = "secure_enclave"
)

// HardwareBacked reports whether the level implies key material held in
// dedicated secure hardware. TEE counts: the trust ceiling between tiers is
// recorded on the device, not re-encoded into confidence.
func (l AttestationLevel) HardwareBacked() bool {
	switch l {
	case AttestationLevelTEE, AttestationLevelStrongbox, AttestationLevelSecureEnclave:
		return true
	}
	return false
}

// NormalizeAttestationLevel maps legacy labels onto the canonical set.
// "full" is the historic spelling of secure_enclave.
func NormalizeAttestationLevel(raw string) AttestationLevel {
	switch raw {
	case "full", string(AttestationLevelSecureEnclave):
		return AttestationLevelSecureEnclave
	case string(AttestationLevelStrongbox):
		return AttestationLevelStrongbox
	case string(AttestationLevelTEE):
		return AttestationLevelTEE
	default:
		return AttestationLevelUnverified
	}
}

// Device is one physical device installation, anchored by its globally
// unique attestation key id. PublicKey is nil until an attestation has
// succeeded; AssertionCounter only ever moves forward.
type Device struct {
	ID               string
	AttestationKeyID string
	PublicKey        []byte
	AssertionCounter int64
	AttestationLevel AttestationLevel
	SecurityLevel    string
	Platform         string
	Model            string
	HasDepthSensor   bool
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
}

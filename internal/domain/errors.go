package domain

import "errors"

var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNotFound                = errors.New("not found")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrAttestationChainInvalid = errors.New("attestation chain invalid")
	ErrChallengeMismatch       = errors.New("attestation challenge mismatch")
	ErrChallengeExpired        = errors.New("attestation challenge expired")
	ErrReplayDetected          = errors.New("assertion replay detected")
	ErrHashChainBroken         = errors.New("hash chain broken")
	ErrHashChainEmpty          = errors.New("hash chain empty")
	ErrChainFinalized          = errors.New("hash chain already finalized")
	ErrDeviceExists            = errors.New("attestation key already registered")
	ErrDuplicateCapture        = errors.New("capture media hash already processed")
	ErrEvidenceIncomplete      = errors.New("evidence missing required section")
)

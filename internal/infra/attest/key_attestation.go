package attest

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"attestd/internal/domain"
)

// oidKeyAttestation is the Android key attestation extension on the leaf.
var oidKeyAttestation = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

const (
	keymasterSoftware  = 0
	keymasterTEE       = 1
	keymasterStrongbox = 2
)

// keyAttestationRecord is the subset of the key attestation extension this
// verifier consumes: the embedded challenge and the keymaster security
// level.
type keyAttestationRecord struct {
	AttestationChallenge []byte
	SecurityLevel        int
}

// KeyAttestationFormat validates Android-style TEE/StrongBox key
// attestation bundles against configured platform roots.
type KeyAttestationFormat struct {
	Roots *x509.CertPool
}

func (f *KeyAttestationFormat) ID() FormatID {
	return FormatKeyAttestation
}

func (f *KeyAttestationFormat) Verify(certsDER [][]byte, challenge []byte, now time.Time) (*Parsed, error) {
	leaf, intermediates, err := parseChain(certsDER)
	if err != nil {
		return nil, err
	}
	if err := verifyAgainstRoots(leaf, intermediates, f.Roots, now); err != nil {
		return nil, err
	}

	raw, ok := extensionValue(leaf, oidKeyAttestation)
	if !ok {
		return nil, domain.ErrAttestationChainInvalid
	}
	var record keyAttestationRecord
	if rest, err := asn1.Unmarshal(raw, &record); err != nil || len(rest) != 0 {
		return nil, domain.ErrAttestationChainInvalid
	}
	if !bytes.Equal(record.AttestationChallenge, challenge) {
		return nil, domain.ErrChallengeMismatch
	}

	level, securityLevel, err := mapKeymasterLevel(record.SecurityLevel)
	if err != nil {
		return nil, err
	}
	publicKey, err := leafPublicKey(leaf)
	if err != nil {
		return nil, err
	}
	return &Parsed{
		PublicKey:     publicKey,
		KeyID:         KeyIDFromPublicKey(publicKey),
		Level:         level,
		SecurityLevel: securityLevel,
		DeviceModel:   leaf.Subject.CommonName,
	}, nil
}

// mapKeymasterLevel translates the platform tier. A software keymaster
// cannot prove hardware backing, so its bundle is treated as an invalid
// chain rather than a lower tier.
func mapKeymasterLevel(level int) (domain.AttestationLevel, string, error) {
	switch level {
	case keymasterTEE:
		return domain.AttestationLevelTEE, "trusted_environment", nil
	case keymasterStrongbox:
		return domain.AttestationLevelStrongbox, "strongbox", nil
	case keymasterSoftware:
		return "", "", domain.ErrAttestationChainInvalid
	default:
		return "", "", domain.ErrAttestationChainInvalid
	}
}

package attest

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"attestd/internal/domain"
)

// oidSecureEnclaveNonce is the leaf extension carrying the attestation
// nonce: SHA-256 of the server-issued registration challenge.
var oidSecureEnclaveNonce = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

// SecureEnclaveFormat validates Apple-style secure-enclave attestation
// bundles. The leaf certificate binds the attested key to the app identity
// (subject OU) and to the challenge nonce; the chain must terminate at a
// configured platform root.
type SecureEnclaveFormat struct {
	Roots *x509.CertPool
	AppID string
}

func (f *SecureEnclaveFormat) ID() FormatID {
	return FormatSecureEnclave
}

func (f *SecureEnclaveFormat) Verify(certsDER [][]byte, challenge []byte, now time.Time) (*Parsed, error) {
	leaf, intermediates, err := parseChain(certsDER)
	if err != nil {
		return nil, err
	}
	if err := verifyAgainstRoots(leaf, intermediates, f.Roots, now); err != nil {
		return nil, err
	}
	if f.AppID != "" && !subjectHasOU(leaf, f.AppID) {
		return nil, domain.ErrAttestationChainInvalid
	}

	nonce, ok := extensionValue(leaf, oidSecureEnclaveNonce)
	if !ok {
		return nil, domain.ErrAttestationChainInvalid
	}
	want := sha256.Sum256(challenge)
	if !bytes.Equal(nonce, want[:]) {
		return nil, domain.ErrChallengeMismatch
	}

	publicKey, err := leafPublicKey(leaf)
	if err != nil {
		return nil, err
	}
	return &Parsed{
		PublicKey:     publicKey,
		KeyID:         KeyIDFromPublicKey(publicKey),
		Level:         domain.AttestationLevelSecureEnclave,
		SecurityLevel: string(domain.AttestationLevelSecureEnclave),
		DeviceModel:   leaf.Subject.CommonName,
	}, nil
}

func subjectHasOU(cert *x509.Certificate, ou string) bool {
	for _, unit := range cert.Subject.OrganizationalUnit {
		if unit == ou {
			return true
		}
	}
	return false
}

func extensionValue(cert *x509.Certificate, oid asn1.ObjectIdentifier) ([]byte, bool) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext.Value, true
		}
	}
	return nil, false
}

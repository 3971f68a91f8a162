// Package attest verifies hardware attestation bundles and per-capture
// assertions. Platform formats (secure-enclave style, Android key
// attestation style) all reduce to one common parsed shape; everything
// downstream depends only on that shape.
package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"attestd/internal/domain"
)

type FormatID string

const (
	FormatSecureEnclave  FormatID = "secure_enclave"
	FormatKeyAttestation FormatID = "key_attestation"
)

// Parsed is the common output of every attestation format: the durable leaf
// public key, the platform-reported security tier, and the device model the
// platform vouched for.
type Parsed struct {
	PublicKey     []byte
	KeyID         string
	Level         domain.AttestationLevel
	SecurityLevel string
	DeviceModel   string
}

// Format validates one platform's attestation bundle: a DER certificate
// chain, leaf first, bound to a server-issued challenge.
type Format interface {
	ID() FormatID
	Verify(certsDER [][]byte, challenge []byte, now time.Time) (*Parsed, error)
}

type Service struct {
	formats map[FormatID]Format
}

func NewService(formats ...Format) *Service {
	s := &Service{formats: make(map[FormatID]Format, len(formats))}
	for _, f := range formats {
		s.formats[f.ID()] = f
	}
	return s
}

// VerifyBundle dispatches to the named format. An unknown format id means
// the bundle cannot be validated at all, which is a chain failure rather
// than an absent signal: the caller chose to submit a bundle.
func (s *Service) VerifyBundle(id FormatID, certsDER [][]byte, challenge []byte, now time.Time) (*Parsed, error) {
	format, ok := s.formats[id]
	if !ok {
		return nil, domain.ErrAttestationChainInvalid
	}
	if len(certsDER) == 0 {
		return nil, domain.ErrAttestationChainInvalid
	}
	return format.Verify(certsDER, challenge, now)
}

func parseChain(certsDER [][]byte) (leaf *x509.Certificate, intermediates *x509.CertPool, err error) {
	certs := make([]*x509.Certificate, 0, len(certsDER))
	for _, der := range certsDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, domain.ErrAttestationChainInvalid
		}
		certs = append(certs, cert)
	}
	leaf = certs[0]
	intermediates = x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	return leaf, intermediates, nil
}

func verifyAgainstRoots(leaf *x509.Certificate, intermediates, roots *x509.CertPool, now time.Time) error {
	if roots == nil {
		return domain.ErrAttestationChainInvalid
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return domain.ErrAttestationChainInvalid
	}
	return nil
}

// leafPublicKey extracts the attested key as a 65-byte uncompressed P-256
// point, the durable form stored on the device record.
func leafPublicKey(leaf *x509.Certificate) ([]byte, error) {
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, domain.ErrAttestationChainInvalid
	}
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y), nil
}

// KeyIDFromPublicKey derives the stable attestation key id: hex SHA-256 of
// the uncompressed point.
func KeyIDFromPublicKey(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

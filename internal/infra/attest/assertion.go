package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/binary"
	"math/big"

	"attestd/internal/domain"
)

// ecdsaSignature is the ASN.1 shape of a DER-encoded ECDSA signature.
type ecdsaSignature struct {
	R *big.Int
	S *big.Int
}

// AssertionMessage is the exact byte string a device signs for one capture:
// SHA-256 over the client data hash (the target media hash) followed by the
// big-endian assertion counter. Hashing the counter closes replay of an old
// signature with a bumped counter field.
func AssertionMessage(clientDataHash []byte, counter int64) []byte {
	var counterBE [8]byte
	binary.BigEndian.PutUint64(counterBE[:], uint64(counter))
	h := sha256.New()
	h.Write(clientDataHash)
	h.Write(counterBE[:])
	return h.Sum(nil)
}

// VerifyAssertion checks a per-capture assertion signature against the
// device's stored public key (65-byte uncompressed P-256 point).
func VerifyAssertion(publicKey, clientDataHash []byte, counter int64, signatureDER []byte) error {
	pub, err := unmarshalP256(publicKey)
	if err != nil {
		return err
	}

	var sig ecdsaSignature
	if rest, err := asn1.Unmarshal(signatureDER, &sig); err != nil || len(rest) != 0 {
		return domain.ErrAttestationChainInvalid
	}
	if sig.R == nil || sig.S == nil {
		return domain.ErrAttestationChainInvalid
	}

	digest := AssertionMessage(clientDataHash, counter)
	if !ecdsa.Verify(pub, digest, sig.R, sig.S) {
		return domain.ErrAttestationChainInvalid
	}
	return nil
}

// VerifyAssertion on Service lets one value satisfy both the bundle and
// assertion verifier roles when wiring the server.
func (s *Service) VerifyAssertion(publicKey, clientDataHash []byte, counter int64, signatureDER []byte) error {
	return VerifyAssertion(publicKey, clientDataHash, counter, signatureDER)
}

func unmarshalP256(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 65 || raw[0] != 4 {
		return nil, domain.ErrAttestationChainInvalid
	}
	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:65])
	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return nil, domain.ErrAttestationChainInvalid
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"
)

// AddressLen is the length of a hex address (RIPEMD-160 digest).
const AddressLen = ripemd160.Size * 2

// AddressFromPublicKey derives hex(RIPEMD-160(SHA-256(pub))) from a
// compressed public key.
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	sha := sha256.Sum256(pub.SerializeCompressed())
	h := ripemd160.New()
	h.Write(sha[:])
	return hex.EncodeToString(h.Sum(nil))
}

// AddressFromPublicKeyHex parses a hex public key and derives its address.
func AddressFromPublicKeyHex(pubHex string) (string, error) {
	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		return "", err
	}
	return AddressFromPublicKey(pub), nil
}

// ParsePublicKeyHex decodes a hex-encoded secp256k1 public key
// (compressed or uncompressed).
func ParsePublicKeyHex(pubHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex", ErrInvalidKey)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// ValidateAddress checks the shape of a hex address.
func ValidateAddress(addr string) error {
	if len(addr) != AddressLen {
		return fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidAddress, AddressLen, len(addr))
	}
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: not lowercase hex", ErrInvalidAddress)
		}
	}
	return nil
}

// Sign signs SHA-256(payload) with priv and returns the hex DER signature.
// Nonces are deterministic (RFC 6979).
func Sign(priv *secp256k1.PrivateKey, payload []byte) string {
	digest := sha256.Sum256(payload)
	sig := ecdsa.Sign(priv, digest[:])
	return hex.EncodeToString(sig.Serialize())
}

// Verify checks a hex DER signature over SHA-256(payload) against a hex
// public key. Any malformed input, or a panic inside the curve code, counts
// as a failed verification.
func Verify(pubHex string, payload []byte, sigHex string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if pubHex == "" || sigHex == "" || len(payload) == 0 {
		return false
	}
	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		return false
	}
	rawSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(payload)
	return sig.Verify(digest[:], pub)
}

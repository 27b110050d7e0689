package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/aibtcc/aibtcc-go/pkg/util"
)

// AddressLen is the length of a derived address: the first 30 hex characters
// of SHA-256(public key bytes).
const AddressLen = 30

// Accepted address lengths at the input boundary. Old wallets produced
// shorter addresses; they are accepted but never normalized.
const (
	MinAddressLen = 24
	MaxAddressLen = 30
)

// Accepted public key encodings: compressed (33 bytes) and uncompressed (65
// bytes), as hex.
const (
	compressedKeyHexLen   = 66
	uncompressedKeyHexLen = 130
)

// SignatureError reports a malformed key, digest, or signature. Callers
// treat it the same as a failed verification.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature invalid: %s", e.Reason)
}

// KeyPair holds a secp256k1 private key and its hex encodings.
type KeyPair struct {
	priv *secp256k1.PrivateKey

	PrivateKeyHex string
	PublicKeyHex  string // compressed
	Address       string
}

// GenerateKeyPair creates a fresh secp256k1 keypair with its derived address.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromPrivateHex reconstructs a keypair from a hex-encoded 32-byte
// private key.
func KeyPairFromPrivateHex(privHex string) (*KeyPair, error) {
	raw, err := util.HexToBytes(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	return newKeyPair(secp256k1.PrivKeyFromBytes(raw)), nil
}

func newKeyPair(priv *secp256k1.PrivateKey) *KeyPair {
	pubHex := util.BytesToHex(priv.PubKey().SerializeCompressed())
	return &KeyPair{
		priv:          priv,
		PrivateKeyHex: util.BytesToHex(priv.Serialize()),
		PublicKeyHex:  pubHex,
		Address:       MustDeriveAddress(pubHex),
	}
}

// Sign signs a hex-encoded 32-byte digest and returns the DER signature as hex.
func (kp *KeyPair) Sign(digestHex string) (string, error) {
	digest, err := util.HexToBytes(digestHex)
	if err != nil {
		return "", &SignatureError{Reason: fmt.Sprintf("bad digest hex: %v", err)}
	}
	if len(digest) != 32 {
		return "", &SignatureError{Reason: fmt.Sprintf("digest must be 32 bytes, got %d", len(digest))}
	}
	sig := ecdsa.Sign(kp.priv, digest)
	return util.BytesToHex(sig.Serialize()), nil
}

// Verify checks a hex DER signature over a hex digest under a hex public key.
// Any parse failure counts as a failed verification.
func Verify(pubHex, digestHex, derHex string) bool {
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return false
	}
	digest, err := util.HexToBytes(digestHex)
	if err != nil || len(digest) != 32 {
		return false
	}
	der, err := util.HexToBytes(derHex)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// DeriveAddress derives the address of a hex public key: the first 30 hex
// characters of SHA-256 over the raw key bytes.
func DeriveAddress(pubHex string) (string, error) {
	if !ValidPublicKey(pubHex) {
		return "", &SignatureError{Reason: fmt.Sprintf("public key must be %d or %d hex chars, got %d",
			compressedKeyHexLen, uncompressedKeyHexLen, len(pubHex))}
	}
	raw, err := util.HexToBytes(pubHex)
	if err != nil {
		return "", &SignatureError{Reason: fmt.Sprintf("bad public key hex: %v", err)}
	}
	return util.SHA256Hex(raw)[:AddressLen], nil
}

// MustDeriveAddress is DeriveAddress for keys this process generated itself.
func MustDeriveAddress(pubHex string) string {
	addr, err := DeriveAddress(pubHex)
	if err != nil {
		panic(err)
	}
	return addr
}

// ValidPublicKey reports whether pubHex has an accepted public key length
// (compressed or uncompressed) and decodes as hex.
func ValidPublicKey(pubHex string) bool {
	if len(pubHex) != compressedKeyHexLen && len(pubHex) != uncompressedKeyHexLen {
		return false
	}
	_, err := util.HexToBytes(pubHex)
	return err == nil
}

// ValidAddress reports whether addr is an acceptable address at the input
// boundary: 24-30 hex characters.
func ValidAddress(addr string) bool {
	if len(addr) < MinAddressLen || len(addr) > MaxAddressLen {
		return false
	}
	for _, c := range addr {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func parsePublicKey(pubHex string) (*secp256k1.PublicKey, error) {
	if !ValidPublicKey(pubHex) {
		return nil, &SignatureError{Reason: "unexpected public key length"}
	}
	raw, err := util.HexToBytes(pubHex)
	if err != nil {
		return nil, &SignatureError{Reason: fmt.Sprintf("bad public key hex: %v", err)}
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, &SignatureError{Reason: fmt.Sprintf("parse public key: %v", err)}
	}
	return pub, nil
}

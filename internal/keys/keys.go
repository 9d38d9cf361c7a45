package keys

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrBadKey is returned when key material cannot be parsed.
	ErrBadKey = errors.New("malformed key material")
)

// PublicKey is an Ed25519 verification key. Services and login sessions
// publish these as their signing certificates.
type PublicKey []byte

// NewPublicKeyFromString parses a hex-encoded public key.
func NewPublicKeyFromString(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: unexpected length %d", ErrBadKey, len(raw))
	}
	return PublicKey(raw), nil
}

// String returns the hex encoding of the key. Useful for logging and
// as a map key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// Equal compares two public keys in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// Verify reports whether sig is a valid signature over payload.
func (pk PublicKey) Verify(payload, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), payload, sig)
}

// PrivateKey is an Ed25519 signing key. It never crosses a process
// boundary: login sessions sign authorisations with a device-held key
// and services sign responses with their own.
type PrivateKey []byte

// Sign signs payload.
func (sk PrivateKey) Sign(payload []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(sk), payload)
}

// Public returns the verification half of the key.
func (sk PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(sk).Public().(ed25519.PublicKey))
}

// GenerateSigningKey creates a fresh Ed25519 key pair.
func GenerateSigningKey() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// GenerateExchangeKey creates a fresh P-256 key for ECIES key
// agreement. Response keys are call-scoped: generate one per call and
// throw it away.
func GenerateExchangeKey() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// ParseExchangePublicKey parses an uncompressed P-256 public key.
func ParseExchangePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return pub, nil
}

// KeyPair bundles a user's signing key and exchange key. The identity
// service stores key pairs only inside the password envelope; the
// plaintext form lives in client memory.
type KeyPair struct {
	sign     PrivateKey
	exchange *ecdh.PrivateKey
}

// NewKeyPair generates both halves of a key pair.
func NewKeyPair() (*KeyPair, error) {
	_, sk, err := GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	ek, err := GenerateExchangeKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{sign: sk, exchange: ek}, nil
}

// Sign signs payload with the signing half.
func (kp *KeyPair) Sign(payload []byte) []byte {
	return kp.sign.Sign(payload)
}

// SigningKey returns the private signing half.
func (kp *KeyPair) SigningKey() PrivateKey {
	return kp.sign
}

// Certificate returns the public verification key, i.e. the
// certificate presented during login approval.
func (kp *KeyPair) Certificate() PublicKey {
	return kp.sign.Public()
}

// ExchangeKey returns the private exchange half.
func (kp *KeyPair) ExchangeKey() *ecdh.PrivateKey {
	return kp.exchange
}

// ExchangePublicKey returns the public exchange half.
func (kp *KeyPair) ExchangePublicKey() *ecdh.PublicKey {
	return kp.exchange.PublicKey()
}

type keyPairJSON struct {
	Sign     string `json:"sign_key"`
	Exchange string `json:"exchange_key"`
}

// MarshalBinary serializes the key pair for storage inside a vault
// envelope.
func (kp *KeyPair) MarshalBinary() ([]byte, error) {
	return json.Marshal(keyPairJSON{
		Sign:     hex.EncodeToString(kp.sign),
		Exchange: hex.EncodeToString(kp.exchange.Bytes()),
	})
}

// UnmarshalKeyPair restores a key pair serialized by MarshalBinary.
func UnmarshalKeyPair(raw []byte) (*KeyPair, error) {
	var enc keyPairJSON
	if err := json.Unmarshal(raw, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	sk, err := hex.DecodeString(enc.Sign)
	if err != nil || len(sk) != ed25519.PrivateKeySize {
		return nil, ErrBadKey
	}
	ekRaw, err := hex.DecodeString(enc.Exchange)
	if err != nil {
		return nil, ErrBadKey
	}
	ek, err := ecdh.P256().NewPrivateKey(ekRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return &KeyPair{sign: PrivateKey(sk), exchange: ek}, nil
}

package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ephemeralKeySize = 65 // uncompressed P-256 point
	nonceSize        = 12
)

// ErrDecrypt is returned when a sealed blob cannot be opened with the
// supplied key. Callers must treat it as fatal for the request.
var ErrDecrypt = errors.New("unable to decrypt sealed data")

// Sealed holds ECIES-encrypted data: an ephemeral P-256 key agreement
// followed by AES-256-GCM with the ephemeral public key bound as
// additional data.
type Sealed struct {
	EphemeralKey []byte
	Nonce        []byte
	Ciphertext   []byte
}

// Seal encrypts plaintext to the recipient's exchange key.
func Seal(recipient *ecdh.PublicKey, plaintext []byte) (*Sealed, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	ciphertext := aead.Seal(nil, nonce, plaintext, ephemeralPub)

	return &Sealed{
		EphemeralKey: ephemeralPub,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
	}, nil
}

// Open decrypts a sealed blob with the recipient's private exchange
// key.
func Open(recipient *ecdh.PrivateKey, sealed *Sealed) ([]byte, error) {
	ephemeral, err := ecdh.P256().NewPublicKey(sealed.EphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key", ErrDecrypt)
	}

	shared, err := recipient.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement failed", ErrDecrypt)
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	if len(sealed.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce", ErrDecrypt)
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, sealed.EphemeralKey)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Bytes flattens a sealed blob to ephemeral || nonce || ciphertext.
func (s *Sealed) Bytes() []byte {
	out := make([]byte, 0, len(s.EphemeralKey)+len(s.Nonce)+len(s.Ciphertext))
	out = append(out, s.EphemeralKey...)
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	return out
}

// ParseSealed reverses Bytes.
func ParseSealed(raw []byte) (*Sealed, error) {
	if len(raw) < ephemeralKeySize+nonceSize+1 {
		return nil, fmt.Errorf("%w: truncated blob", ErrDecrypt)
	}
	return &Sealed{
		EphemeralKey: raw[:ephemeralKeySize],
		Nonce:        raw[ephemeralKeySize : ephemeralKeySize+nonceSize],
		Ciphertext:   raw[ephemeralKeySize+nonceSize:],
	}, nil
}

func newAEAD(shared []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, nil, []byte("signet-ecies-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

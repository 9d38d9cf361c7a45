package wire

import (
	"fmt"

	"github.com/signetfin/signet/internal/keys"
)

// Authorisation is a session-bound proof that a request originates
// from the session's authenticated owner. The signature covers the
// canonical form of the payload the request actually carries, so a
// captured authorisation cannot be replayed against different
// arguments. Building one requires the device-held signing key; the
// key itself never leaves the caller's process.
type Authorisation struct {
	SessionUID string `json:"session_uid"`
	Signature  []byte `json:"signature"`
}

// Authorise signs the canonical encoding of payload with the session's
// signing key.
func Authorise(sessionUID string, signingKey keys.PrivateKey, payload any) (*Authorisation, error) {
	canon, err := Canonical(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValue, err)
	}
	return &Authorisation{
		SessionUID: sessionUID,
		Signature:  signingKey.Sign(canon),
	}, nil
}

// Verify checks the authorisation against the session's stored
// certificate and the payload it accompanies. Callers must separately
// confirm that the referenced session is still live.
func (a *Authorisation) Verify(cert keys.PublicKey, payload any) error {
	if a == nil || a.SessionUID == "" {
		return fmt.Errorf("%w: missing authorisation", ErrPermission)
	}
	canon, err := Canonical(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValue, err)
	}
	if !cert.Verify(canon, a.Signature) {
		return fmt.Errorf("%w: authorisation signature does not match payload", ErrPermission)
	}
	return nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/session"
	"github.com/signetfin/signet/internal/wire"
)

// AuthVerifier resolves an authorisation to the acting user. The
// accounting service never inspects sessions itself; the identity
// service owns them.
type AuthVerifier interface {
	// Verify checks that auth was produced by a live session over
	// exactly payload and returns the session owner's user uid.
	Verify(ctx context.Context, auth *wire.Authorisation, payload any) (string, error)
}

// LocalVerifier verifies against an in-process session service. Used
// when both services share a process, and by tests.
type LocalVerifier struct {
	Sessions *session.Service
}

func (v *LocalVerifier) Verify(ctx context.Context, auth *wire.Authorisation, payload any) (string, error) {
	sess, err := v.Sessions.VerifyAuthorisation(ctx, auth, payload)
	if err != nil {
		return "", err
	}
	return sess.UserUID, nil
}

// RemoteVerifier delegates verification to an identity service over
// the encrypted channel. The payload travels as its JSON encoding; the
// identity service re-canonicalises before checking the signature, so
// both sides agree on the signed bytes.
type RemoteVerifier struct {
	Directory   *directory.Directory
	Channel     *wire.SecureChannel
	IdentityURL string
}

type whoisResult struct {
	UserUID string `json:"user_uid"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, auth *wire.Authorisation, payload any) (string, error) {
	if auth == nil {
		return "", fmt.Errorf("%w: missing authorisation", wire.ErrPermission)
	}
	info, err := v.Directory.Resolve(ctx, v.IdentityURL, directory.IdentityService)
	if err != nil {
		return "", err
	}
	exchange, err := info.ExchangeKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", wire.ErrServiceIdentity, err)
	}
	cert, err := info.Certificate()
	if err != nil {
		return "", fmt.Errorf("%w: %v", wire.ErrServiceIdentity, err)
	}

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", wire.ErrValue, err)
	}

	result, _, err := v.Channel.Call(ctx, info.CanonicalURL+"/whois", map[string]any{
		"authorisation": auth,
		"payload":       json.RawMessage(payloadRaw),
	}, exchange, cert)
	if err != nil {
		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			return "", fmt.Errorf("%w: %s", wire.ErrPermission, remote.Message)
		}
		return "", err
	}

	var who whoisResult
	if err := json.Unmarshal(result, &who); err != nil {
		return "", fmt.Errorf("%w: undecodable whois result", wire.ErrServiceIdentity)
	}
	if who.UserUID == "" {
		return "", fmt.Errorf("%w: identity service returned no user", wire.ErrPermission)
	}
	return who.UserUID, nil
}

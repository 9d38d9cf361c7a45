package client

import (
	"context"
	"fmt"

	"github.com/signetfin/signet/internal/api"
	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/vault"
	"github.com/signetfin/signet/internal/wire"
)

// User is a logged-in identity. The session signing key is generated
// on this device at login and never leaves the process; every
// authorisation the user produces is signed with it.
type User struct {
	Username    string
	UserUID     string
	IdentityURL string

	c          *Client
	sessionUID string
	device     *keys.KeyPair
	vault      *keys.KeyPair
}

// Register creates a user account on the identity service. Returns the
// new user's uid and the one-time OTP provisioning secret, shown to
// the user exactly once for enrolling an authenticator.
func Register(ctx context.Context, c *Client, identityURL, username, password string) (userUID, otpSecret string, err error) {
	var result struct {
		UserUID   string `json:"user_uid"`
		OTPSecret string `json:"otp_secret"`
	}
	_, err = c.call(ctx, identityURL, directory.IdentityService, "/register",
		api.RegisterArgs{Username: username, Password: password}, &result)
	if err != nil {
		return "", "", err
	}
	return result.UserUID, result.OTPSecret, nil
}

// Login runs the full flow: request a session, generate a device key
// pair, then present password and one-time code together with the
// device certificate for approval.
func Login(ctx context.Context, c *Client, identityURL, username, password, otpCode string) (*User, error) {
	var requested struct {
		SessionUID string `json:"session_uid"`
	}
	_, err := c.call(ctx, identityURL, directory.IdentityService, "/request-login",
		api.RequestLoginArgs{Username: username}, &requested)
	if err != nil {
		return nil, err
	}

	device, err := keys.NewKeyPair()
	if err != nil {
		return nil, err
	}

	var approved struct {
		SessionUID       string `json:"session_uid"`
		UserUID          string `json:"user_uid"`
		EncryptedKeyPair []byte `json:"encrypted_key_pair"`
	}
	_, err = c.call(ctx, identityURL, directory.IdentityService, "/login", api.LoginArgs{
		Username:    username,
		Password:    password,
		OTPCode:     otpCode,
		SessionUID:  requested.SessionUID,
		Certificate: device.Certificate().String(),
	}, &approved)
	if err != nil {
		return nil, err
	}

	// unlock the long-lived key pair locally; it arrived sealed in its
	// password envelope and the password never left this process
	var vaultKeys *keys.KeyPair
	if len(approved.EncryptedKeyPair) > 0 {
		raw, err := vault.OpenEnvelope(password, approved.EncryptedKeyPair)
		if err != nil {
			return nil, err
		}
		vaultKeys, err = keys.UnmarshalKeyPair(raw)
		if err != nil {
			return nil, err
		}
	}

	return &User{
		Username:    username,
		UserUID:     approved.UserUID,
		IdentityURL: identityURL,
		c:           c,
		sessionUID:  approved.SessionUID,
		device:      device,
		vault:       vaultKeys,
	}, nil
}

// VaultKeys returns the user's unlocked long-lived key pair, nil after
// logout.
func (u *User) VaultKeys() *keys.KeyPair {
	if u == nil {
		return nil
	}
	return u.vault
}

// IsLoggedIn reports whether the user still holds session material.
func (u *User) IsLoggedIn() bool {
	return u != nil && u.sessionUID != "" && u.device != nil
}

// SessionUID returns the current session uid, empty after logout.
func (u *User) SessionUID() string {
	if u == nil {
		return ""
	}
	return u.sessionUID
}

// SignAuthorisation binds the session to a request payload with the
// device key.
func (u *User) SignAuthorisation(payload any) (*wire.Authorisation, error) {
	if !u.IsLoggedIn() {
		return nil, fmt.Errorf("%w: not logged in", wire.ErrPermission)
	}
	return wire.Authorise(u.sessionUID, u.device.SigningKey(), payload)
}

// Logout ends the session and drops the device key. Any log lines the
// service produced during cleanup are returned for display.
func (u *User) Logout(ctx context.Context) ([]string, error) {
	if !u.IsLoggedIn() {
		return nil, nil
	}
	permission := "logout " + u.sessionUID

	resp, err := u.c.call(ctx, u.IdentityURL, directory.IdentityService, "/logout", api.LogoutArgs{
		Username:   u.Username,
		SessionUID: u.sessionUID,
		Permission: permission,
		Signature:  u.device.Sign([]byte(permission)),
	}, nil)
	if err != nil {
		return nil, err
	}

	u.sessionUID = ""
	u.device = nil
	u.vault = nil
	if resp == nil {
		return nil, nil
	}
	return resp.Log, nil
}

package vault

import (
	"errors"
	"strings"
	"time"

	"github.com/signetfin/signet/internal/keys"
)

var (
	// ErrUserValidation is returned for any credential failure. It is
	// deliberately uniform: callers cannot tell whether the password,
	// the account state or the OTP code was wrong.
	ErrUserValidation = errors.New("invalid username, password or one-time code")
	// ErrUsername is returned for usernames outside the 3-50 character
	// range.
	ErrUsername = errors.New("username must be between 3 and 50 characters")
	// ErrExistingAccount is returned when registering a username that
	// is already taken.
	ErrExistingAccount = errors.New("account already exists")
)

// Status of a user account.
type Status string

const (
	StatusInvalid  Status = "invalid"
	StatusDisabled Status = "disabled"
	StatusActive   Status = "active"
)

const (
	// MaxOpenSessions caps simultaneous login sessions (and pending
	// login requests) per user.
	MaxOpenSessions = 10
	// LoginRequestTimeout is how long a requested session may wait for
	// approval.
	LoginRequestTimeout = 30 * time.Minute
	// SessionTimeout bounds the life of an approved session. Individual
	// workflows should not outlive it.
	SessionTimeout = 7 * 24 * time.Hour
)

// UserAccount is the credential vault record for one user: the
// password-encrypted key pair, the public halves in clear, and the
// OTP seed sealed to the account's own exchange key.
type UserAccount struct {
	Username           string `json:"username"`
	SanitisedName      string `json:"sanitised_name"`
	AccountStatus      Status `json:"status"`
	EncryptedKeyPair   []byte `json:"encrypted_key_pair"`
	PublicSignKey      string `json:"public_sign_key"`
	PublicExchangeKey  []byte `json:"public_exchange_key"`
	EncryptedOTPSecret []byte `json:"encrypted_otp_secret"`
}

// NewUserAccount creates a disabled account for username. It becomes
// active once SetKeys installs key material.
func NewUserAccount(username string) (*UserAccount, error) {
	sanitised, err := SanitiseUsername(username)
	if err != nil {
		return nil, err
	}
	return &UserAccount{
		Username:      username,
		SanitisedName: sanitised,
		AccountStatus: StatusDisabled,
	}, nil
}

// Status returns the account status, mapping a zero value to invalid.
func (u *UserAccount) Status() Status {
	if u == nil || u.AccountStatus == "" {
		return StatusInvalid
	}
	return u.AccountStatus
}

// IsActive reports whether credentials may be validated against this
// account.
func (u *UserAccount) IsActive() bool {
	return u.Status() == StatusActive
}

// SetKeys installs the account's key material and activates it. The
// key pair must already be sealed in a password envelope; the public
// halves are stored in clear so that other services can verify
// signatures and seal data to the account.
func (u *UserAccount) SetKeys(encryptedKeyPair []byte, cert keys.PublicKey, exchangePub []byte, encryptedOTPSecret []byte) {
	if u.Status() == StatusInvalid || len(encryptedKeyPair) == 0 {
		return
	}
	u.EncryptedKeyPair = encryptedKeyPair
	u.PublicSignKey = cert.String()
	u.PublicExchangeKey = exchangePub
	u.EncryptedOTPSecret = encryptedOTPSecret
	u.AccountStatus = StatusActive
}

// ValidatePassword checks the password and one-time code together. On
// success it returns the unlocked key pair so the caller can derive
// session material. Every failure path collapses to ErrUserValidation.
func (u *UserAccount) ValidatePassword(password, otpCode string) (*keys.KeyPair, error) {
	if !u.IsActive() {
		return nil, ErrUserValidation
	}

	raw, err := OpenEnvelope(password, u.EncryptedKeyPair)
	if err != nil {
		return nil, ErrUserValidation
	}
	kp, err := keys.UnmarshalKeyPair(raw)
	if err != nil {
		return nil, ErrUserValidation
	}

	if err := VerifyOTP(u.EncryptedOTPSecret, kp, otpCode); err != nil {
		return nil, ErrUserValidation
	}
	return kp, nil
}

// SanitiseUsername maps a username to a storage-safe token. The
// transform is part of the durable storage key layout, so it must stay
// stable: whitespace runs collapse to underscores, path separators are
// stripped, and '@' and '.' become literal markers.
func SanitiseUsername(username string) (string, error) {
	if len(username) < 3 || len(username) > 50 {
		return "", ErrUsername
	}

	s := strings.Join(strings.Fields(username), "_")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "@", "_AT_")
	s = strings.ReplaceAll(s, ".", "_DOT_")
	return s, nil
}

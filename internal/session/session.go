// Package session implements the per-device login session state
// machine owned by the identity service. Sessions are keyed by
// (sanitised username, session uid) while active and move to an
// archival namespace when they reach logged_out. Expiry is evaluated
// lazily on read; there are no background sweepers.
package session

import (
	"fmt"
	"time"

	"github.com/signetfin/signet/internal/vault"
)

// Status of a login session.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusLoggedIn  Status = "logged_in"
	StatusLoggedOut Status = "logged_out"
	StatusExpired   Status = "expired"
)

// LoginSession is one device's login state.
type LoginSession struct {
	UID               string    `json:"uid"`
	UserUID           string    `json:"user_uid"`
	Username          string    `json:"username"`
	SanitisedUsername string    `json:"sanitised_username"`
	Status            Status    `json:"status"`
	PublicCertificate string    `json:"public_certificate,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	RequestTimeoutSec int64     `json:"request_timeout"`
	SessionTimeoutSec int64     `json:"session_timeout"`
}

// EffectiveStatus applies lazy expiry: a requested session past its
// request timeout, or an approved/logged-in session past its session
// timeout, reads as expired regardless of the stored status.
func (s *LoginSession) EffectiveStatus(now time.Time) Status {
	age := now.Sub(s.CreatedAt)
	switch s.Status {
	case StatusRequested:
		if age > time.Duration(s.RequestTimeoutSec)*time.Second {
			return StatusExpired
		}
	case StatusApproved, StatusLoggedIn:
		if age > time.Duration(s.SessionTimeoutSec)*time.Second {
			return StatusExpired
		}
	}
	return s.Status
}

// IsLive reports whether the session may authorise requests.
func (s *LoginSession) IsLive(now time.Time) bool {
	st := s.EffectiveStatus(now)
	return st == StatusApproved || st == StatusLoggedIn
}

func sessionKey(sanitised, uid string) string {
	return fmt.Sprintf("sessions/%s/%s", sanitised, uid)
}

func requestKey(uid string) string {
	return fmt.Sprintf("requests/%s/%s", uid[:8], uid)
}

func archiveKey(sanitised, uid string) string {
	return fmt.Sprintf("expired_sessions/%s/%s", sanitised, uid)
}

// requestRecord is the short-prefix lookup record written alongside a
// requested session so a device can find it knowing only the uid.
type requestRecord struct {
	SessionUID        string `json:"session_uid"`
	SanitisedUsername string `json:"sanitised_username"`
}

func newLoginSession(userUID, username, sanitised, uid string, now time.Time) *LoginSession {
	return &LoginSession{
		UID:               uid,
		UserUID:           userUID,
		Username:          username,
		SanitisedUsername: sanitised,
		Status:            StatusRequested,
		CreatedAt:         now,
		RequestTimeoutSec: int64(vault.LoginRequestTimeout / time.Second),
		SessionTimeoutSec: int64(vault.SessionTimeout / time.Second),
	}
}

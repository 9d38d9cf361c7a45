package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/store"
	"github.com/signetfin/signet/internal/vault"
	"github.com/signetfin/signet/internal/wire"
)

// ErrSessionNotFound is returned when a session uid resolves to
// nothing in storage.
var ErrSessionNotFound = errors.New("login session not found")

// ErrTooManySessions is returned when a user is at the open-session
// cap.
var ErrTooManySessions = errors.New("too many open login sessions")

// Service manages login sessions in the object store. Updates for a
// given (user, session) key serialize through a keyed mutex so that
// concurrent logins and logouts cannot lose the active-to-archived
// move.
type Service struct {
	objects store.ObjectStore
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*keyedLock
}

// keyedLock is reference counted so the entry can be evicted once the
// last holder releases it; the map stays bounded by concurrency, not
// by session count.
type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewService returns a session service over the object store.
func NewService(objects store.ObjectStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		objects: objects,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*keyedLock),
	}
}

// SetClock overrides the time source. Tests use this to drive expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyedLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Request creates a requested session for the user, enforcing the
// open-session cap across live sessions and pending requests.
func (s *Service) Request(ctx context.Context, userUID string, user *vault.UserAccount) (*LoginSession, error) {
	unlock := s.lockKey("user/" + user.SanitisedName)
	defer unlock()

	open, err := s.countOpen(ctx, user.SanitisedName)
	if err != nil {
		return nil, err
	}
	if open >= vault.MaxOpenSessions {
		return nil, ErrTooManySessions
	}

	sess := newLoginSession(userUID, user.Username, user.SanitisedName,
		uuid.NewString(), s.now().UTC())

	if err := store.SetJSON(ctx, s.objects, sessionKey(sess.SanitisedUsername, sess.UID), sess); err != nil {
		return nil, err
	}
	if err := store.SetJSON(ctx, s.objects, requestKey(sess.UID), requestRecord{
		SessionUID:        sess.UID,
		SanitisedUsername: sess.SanitisedUsername,
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) countOpen(ctx context.Context, sanitised string) (int, error) {
	all, err := s.objects.List(ctx, "sessions/"+sanitised+"/")
	if err != nil {
		return 0, err
	}
	open := 0
	now := s.now().UTC()
	for key := range all {
		var sess LoginSession
		if err := store.GetJSON(ctx, s.objects, key, &sess); err != nil {
			continue
		}
		if sess.EffectiveStatus(now) != StatusExpired {
			open++
		}
	}
	return open, nil
}

// Lookup finds a session by uid alone via the request record, then by
// the full session key. Lazy expiry applies.
func (s *Service) Lookup(ctx context.Context, sessionUID string) (*LoginSession, error) {
	if len(sessionUID) < 8 {
		return nil, fmt.Errorf("%w: malformed session uid", wire.ErrValue)
	}
	var rec requestRecord
	if err := store.GetJSON(ctx, s.objects, requestKey(sessionUID), &rec); err != nil {
		return nil, ErrSessionNotFound
	}
	return s.Get(ctx, rec.SanitisedUsername, sessionUID)
}

// Get loads a session by its full storage key. A session read past its
// timeout is expired on the spot: its active records are cleaned up
// and ErrSessionNotFound style callers see the expired status.
func (s *Service) Get(ctx context.Context, sanitised, sessionUID string) (*LoginSession, error) {
	var sess LoginSession
	if err := store.GetJSON(ctx, s.objects, sessionKey(sanitised, sessionUID), &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if sess.EffectiveStatus(s.now().UTC()) == StatusExpired && sess.Status != StatusExpired {
		unlock := s.lockKey(sessionKey(sanitised, sessionUID))
		defer unlock()
		sess.Status = StatusExpired
		// terminal without reaching logged_out: cleanup only, no archive
		s.bestEffortDelete(ctx, sessionKey(sanitised, sessionUID), nil)
		s.bestEffortDelete(ctx, requestKey(sessionUID), nil)
	}
	return &sess, nil
}

// Approve attaches the device certificate after a successful
// password+OTP validation and moves the session to approved.
func (s *Service) Approve(ctx context.Context, sessionUID string, cert keys.PublicKey) (*LoginSession, error) {
	sess, err := s.Lookup(ctx, sessionUID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockKey(sessionKey(sess.SanitisedUsername, sess.UID))
	defer unlock()

	switch sess.EffectiveStatus(s.now().UTC()) {
	case StatusRequested:
	case StatusExpired:
		return nil, fmt.Errorf("%w: login request has expired", wire.ErrPermission)
	default:
		return nil, fmt.Errorf("%w: session is %s", wire.ErrPermission, sess.Status)
	}

	sess.Status = StatusApproved
	sess.PublicCertificate = cert.String()
	if err := store.SetJSON(ctx, s.objects, sessionKey(sess.SanitisedUsername, sess.UID), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// VerifyAuthorisation checks that auth was produced by the live
// session it names, over exactly the given payload. The first
// authorized use of an approved session moves it to logged_in.
func (s *Service) VerifyAuthorisation(ctx context.Context, auth *wire.Authorisation, payload any) (*LoginSession, error) {
	if auth == nil {
		return nil, fmt.Errorf("%w: missing authorisation", wire.ErrPermission)
	}
	sess, err := s.Lookup(ctx, auth.SessionUID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown session", wire.ErrPermission)
	}
	if !sess.IsLive(s.now().UTC()) {
		return nil, fmt.Errorf("%w: session is %s", wire.ErrPermission,
			sess.EffectiveStatus(s.now().UTC()))
	}

	cert, err := keys.NewPublicKeyFromString(sess.PublicCertificate)
	if err != nil {
		return nil, fmt.Errorf("%w: session has no usable certificate", wire.ErrPermission)
	}
	if err := auth.Verify(cert, payload); err != nil {
		return nil, err
	}

	if sess.Status == StatusApproved {
		// re-read under the key lock: a logout that slipped in since the
		// lookup must not have its deletion undone by a stale write
		key := sessionKey(sess.SanitisedUsername, sess.UID)
		unlock := s.lockKey(key)
		defer unlock()

		var current LoginSession
		if err := store.GetJSON(ctx, s.objects, key, &current); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: session is no longer active", wire.ErrPermission)
			}
			return nil, err
		}
		if !current.IsLive(s.now().UTC()) {
			return nil, fmt.Errorf("%w: session is %s", wire.ErrPermission,
				current.EffectiveStatus(s.now().UTC()))
		}
		if current.Status == StatusApproved {
			current.Status = StatusLoggedIn
			if err := store.SetJSON(ctx, s.objects, key, &current); err != nil {
				return nil, err
			}
		}
		sess = &current
	}
	return sess, nil
}

// Logout ends a session. The permission payload must be signed by the
// session's stored certificate. Logging out a session that no longer
// exists is not an error: the desired end state already holds, so it
// succeeds with an informational log line. Cleanup of obsolete keys is
// best effort; failures are reported in the log, never fatal.
func (s *Service) Logout(ctx context.Context, username, sessionUID, permission string, signature []byte) ([]string, error) {
	sanitised, err := vault.SanitiseUsername(username)
	if err != nil {
		return nil, err
	}
	if len(sessionUID) < 8 {
		return nil, fmt.Errorf("%w: malformed session uid", wire.ErrValue)
	}

	unlock := s.lockKey(sessionKey(sanitised, sessionUID))
	defer unlock()

	var log []string

	var sess LoginSession
	found := true
	if err := store.GetJSON(ctx, s.objects, sessionKey(sanitised, sessionUID), &sess); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		found = false
		log = append(log, fmt.Sprintf("session %s no longer exists",
			sessionKey(sanitised, sessionUID)))
	}

	if found {
		if permission != "logout "+sessionUID {
			return nil, fmt.Errorf("%w: permission payload does not name this session", wire.ErrPermission)
		}
		cert, err := keys.NewPublicKeyFromString(sess.PublicCertificate)
		if err != nil {
			return nil, fmt.Errorf("%w: session has no usable certificate", wire.ErrPermission)
		}
		if !cert.Verify([]byte(permission), signature) {
			return nil, fmt.Errorf("%w: logout not signed by the session owner", wire.ErrPermission)
		}

		if st := sess.EffectiveStatus(s.now().UTC()); st == StatusApproved || st == StatusLoggedIn {
			sess.Status = StatusLoggedOut
		}
	}

	s.bestEffortDelete(ctx, sessionKey(sanitised, sessionUID), &log)
	s.bestEffortDelete(ctx, requestKey(sessionUID), &log)

	// only sessions that actually reached logged_out are archived
	if found && sess.Status == StatusLoggedOut {
		if err := store.SetJSON(ctx, s.objects, archiveKey(sanitised, sessionUID), sess); err != nil {
			return nil, err
		}
	}
	return log, nil
}

func (s *Service) bestEffortDelete(ctx context.Context, key string, log *[]string) {
	if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("cleanup failed", "key", key, "err", err)
		if log != nil {
			*log = append(*log, fmt.Sprintf("cleanup of %s failed: %v", key, err))
		}
	}
}

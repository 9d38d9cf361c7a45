package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/store"
	"github.com/signetfin/signet/internal/vault"
	"github.com/signetfin/signet/internal/wire"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *vault.UserAccount) {
	t.Helper()
	objects := store.NewMemoryStore()
	svc := NewService(objects, nil)
	user, err := vault.NewUserAccount("alice@example.com")
	require.NoError(t, err)
	return svc, objects, user
}

func approveSession(t *testing.T, svc *Service, user *vault.UserAccount) (*LoginSession, keys.PrivateKey) {
	t.Helper()
	ctx := context.Background()
	sess, err := svc.Request(ctx, "user-1", user)
	require.NoError(t, err)
	require.Equal(t, StatusRequested, sess.Status)

	cert, sk, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	sess, err = svc.Approve(ctx, sess.UID, cert)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, sess.Status)
	return sess, sk
}

func TestSessionLifecycle(t *testing.T) {
	svc, objects, user := newTestService(t)
	ctx := context.Background()

	sess, sk := approveSession(t, svc, user)

	// first authorized use moves approved -> logged_in
	payload := map[string]string{"op": "get-info"}
	auth, err := wire.Authorise(sess.UID, sk, payload)
	require.NoError(t, err)
	verified, err := svc.VerifyAuthorisation(ctx, auth, payload)
	require.NoError(t, err)
	assert.Equal(t, StatusLoggedIn, verified.Status)

	// signed logout archives the session
	permission := "logout " + sess.UID
	log, err := svc.Logout(ctx, user.Username, sess.UID, permission, sk.Sign([]byte(permission)))
	require.NoError(t, err)
	assert.Empty(t, log)

	var archived LoginSession
	archiveKey := fmt.Sprintf("expired_sessions/%s/%s", user.SanitisedName, sess.UID)
	require.NoError(t, store.GetJSON(ctx, objects, archiveKey, &archived))
	assert.Equal(t, StatusLoggedOut, archived.Status)

	// active record is gone
	_, err = svc.Get(ctx, user.SanitisedName, sess.UID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLogoutMissingSessionSucceeds(t *testing.T) {
	svc, _, user := newTestService(t)

	log, err := svc.Logout(context.Background(), user.Username,
		"00000000-dead-beef-0000-000000000000", "logout whatever", []byte("sig"))
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "no longer exists")
}

func TestLogoutRejectsBadSignature(t *testing.T) {
	svc, _, user := newTestService(t)
	sess, _ := approveSession(t, svc, user)

	_, otherKey, err := keys.GenerateSigningKey()
	require.NoError(t, err)

	permission := "logout " + sess.UID
	_, err = svc.Logout(context.Background(), user.Username, sess.UID,
		permission, otherKey.Sign([]byte(permission)))
	assert.ErrorIs(t, err, wire.ErrPermission)
}

func TestLogoutRejectsForeignPermissionPayload(t *testing.T) {
	svc, _, user := newTestService(t)
	sess, sk := approveSession(t, svc, user)

	permission := "logout some-other-session"
	_, err := svc.Logout(context.Background(), user.Username, sess.UID,
		permission, sk.Sign([]byte(permission)))
	assert.ErrorIs(t, err, wire.ErrPermission)
}

func TestLazyExpiryOfLoginRequest(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC()
	svc.SetClock(func() time.Time { return base })

	sess, err := svc.Request(ctx, "user-1", user)
	require.NoError(t, err)

	// past the request timeout the session reads as expired and the
	// active records are cleaned up
	svc.SetClock(func() time.Time { return base.Add(31 * time.Minute) })

	got, err := svc.Get(ctx, user.SanitisedName, sess.UID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, err = svc.Get(ctx, user.SanitisedName, sess.UID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	cert, _, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	_, err = svc.Approve(ctx, sess.UID, cert)
	assert.Error(t, err)
}

func TestExpiredSessionFailsAuthorisation(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC()
	svc.SetClock(func() time.Time { return base })
	sess, sk := approveSession(t, svc, user)

	svc.SetClock(func() time.Time { return base.Add(8 * 24 * time.Hour) })

	payload := map[string]string{"op": "get-info"}
	auth, err := wire.Authorise(sess.UID, sk, payload)
	require.NoError(t, err)
	_, err = svc.VerifyAuthorisation(ctx, auth, payload)
	assert.ErrorIs(t, err, wire.ErrPermission)
}

func TestOpenSessionCap(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	for i := 0; i < vault.MaxOpenSessions; i++ {
		_, err := svc.Request(ctx, "user-1", user)
		require.NoError(t, err)
	}
	_, err := svc.Request(ctx, "user-1", user)
	assert.ErrorIs(t, err, ErrTooManySessions)
}

// interceptStore runs a hook once, between a read of the watched key
// and the caller acting on the value it read.
type interceptStore struct {
	store.ObjectStore
	key   string
	hook  func()
	armed atomic.Bool
}

func (s *interceptStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.ObjectStore.Get(ctx, key)
	if key == s.key && s.armed.CompareAndSwap(true, false) {
		s.hook()
	}
	return raw, err
}

func TestAuthorisationDoesNotResurrectLoggedOutSession(t *testing.T) {
	ctx := context.Background()
	inner := &interceptStore{ObjectStore: store.NewMemoryStore()}
	svc := NewService(inner, nil)
	user, err := vault.NewUserAccount("alice@example.com")
	require.NoError(t, err)

	sess, sk := approveSession(t, svc, user)
	key := fmt.Sprintf("sessions/%s/%s", user.SanitisedName, sess.UID)

	// a logout lands after the session is read but before the
	// logged_in transition is written back
	inner.key = key
	inner.hook = func() {
		permission := "logout " + sess.UID
		_, err := svc.Logout(ctx, user.Username, sess.UID, permission, sk.Sign([]byte(permission)))
		require.NoError(t, err)
	}
	inner.armed.Store(true)

	payload := map[string]string{"op": "get-info"}
	auth, err := wire.Authorise(sess.UID, sk, payload)
	require.NoError(t, err)
	_, err = svc.VerifyAuthorisation(ctx, auth, payload)
	assert.ErrorIs(t, err, wire.ErrPermission)

	// the active record stays deleted; only the archive remains
	_, err = inner.ObjectStore.Get(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	var archived LoginSession
	archiveKey := fmt.Sprintf("expired_sessions/%s/%s", user.SanitisedName, sess.UID)
	require.NoError(t, store.GetJSON(ctx, inner.ObjectStore, archiveKey, &archived))
	assert.Equal(t, StatusLoggedOut, archived.Status)
}

func TestKeyedLocksAreReleased(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	sess, sk := approveSession(t, svc, user)
	payload := map[string]string{"op": "get-info"}
	auth, err := wire.Authorise(sess.UID, sk, payload)
	require.NoError(t, err)
	_, err = svc.VerifyAuthorisation(ctx, auth, payload)
	require.NoError(t, err)

	permission := "logout " + sess.UID
	_, err = svc.Logout(ctx, user.Username, sess.UID, permission, sk.Sign([]byte(permission)))
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.locks)
}

func TestAuthorisationForUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, sk, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	auth, err := wire.Authorise("11111111-0000-0000-0000-000000000000", sk, "payload")
	require.NoError(t, err)

	_, err = svc.VerifyAuthorisation(context.Background(), auth, "payload")
	assert.ErrorIs(t, err, wire.ErrPermission)
}

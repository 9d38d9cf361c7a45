package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/session"
	"github.com/signetfin/signet/internal/store"
	"github.com/signetfin/signet/internal/vault"
	"github.com/signetfin/signet/internal/wire"
)

// userRecord is the stored form of one registered user.
type userRecord struct {
	UserUID string             `json:"user_uid"`
	Account *vault.UserAccount `json:"account"`
}

func userKey(sanitised string) string {
	return "users/" + sanitised
}

// Identity is the identity service: user registration, the login
// session state machine, and authorisation verification on behalf of
// other services.
type Identity struct {
	*Service
	objects  store.ObjectStore
	sessions *session.Service
}

// NewIdentity assembles the identity service over its object store.
func NewIdentity(svc *Service, objects store.ObjectStore) *Identity {
	return &Identity{
		Service:  svc,
		objects:  objects,
		sessions: session.NewService(objects, svc.Logger),
	}
}

// Sessions exposes the session service, used by in-process verifiers.
func (id *Identity) Sessions() *session.Service {
	return id.sessions
}

// Router builds the identity HTTP surface.
func (id *Identity) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", id.HandleRoot).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/register", id.handle("/register", id.register)).Methods(http.MethodPost)
	r.HandleFunc("/request-login", id.handle("/request-login", id.requestLogin)).Methods(http.MethodPost)
	r.HandleFunc("/login", id.handle("/login", id.login)).Methods(http.MethodPost)
	r.HandleFunc("/whois", id.handle("/whois", id.whois)).Methods(http.MethodPost)
	r.HandleFunc("/logout", id.handle("/logout", id.logout)).Methods(http.MethodPost)
	return r
}

func (id *Identity) loadUser(ctx context.Context, username string) (*userRecord, error) {
	sanitised, err := vault.SanitiseUsername(username)
	if err != nil {
		return nil, err
	}
	var rec userRecord
	if err := store.GetJSON(ctx, id.objects, userKey(sanitised), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// unknown users are indistinguishable from bad credentials
			return nil, vault.ErrUserValidation
		}
		return nil, err
	}
	return &rec, nil
}

type RegisterArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// register provisions a new user: a fresh key pair sealed under the
// password, and a TOTP seed sealed to the pair's exchange key. The
// clear OTP secret is returned exactly once, for enrolling an
// authenticator app.
func (id *Identity) register(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args RegisterArgs
	if err := id.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Password == "" {
		return nil, fmt.Errorf("%w: password is required", wire.ErrValue)
	}

	user, err := vault.NewUserAccount(args.Username)
	if err != nil {
		return nil, err
	}
	if _, err := id.objects.Get(r.Context(), userKey(user.SanitisedName)); err == nil {
		return nil, vault.ErrExistingAccount
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	kp, err := keys.NewKeyPair()
	if err != nil {
		return nil, err
	}
	kpRaw, err := kp.MarshalBinary()
	if err != nil {
		return nil, err
	}
	envelope, err := vault.SealEnvelope(args.Password, kpRaw)
	if err != nil {
		return nil, err
	}
	encryptedSeed, otpSecret, err := vault.NewOTPSecret(user.Username, kp)
	if err != nil {
		return nil, err
	}
	user.SetKeys(envelope, kp.Certificate(), kp.ExchangePublicKey().Bytes(), encryptedSeed)

	rec := userRecord{UserUID: uuid.NewString(), Account: user}
	if err := store.SetJSON(r.Context(), id.objects, userKey(user.SanitisedName), rec); err != nil {
		return nil, err
	}

	id.Logger.Info("user registered", "username", user.SanitisedName, "user_uid", rec.UserUID)
	return id.seal(req, map[string]string{
		"user_uid":    rec.UserUID,
		"otp_secret":  otpSecret,
		"certificate": user.PublicSignKey,
	}, nil)
}

type RequestLoginArgs struct {
	Username string `json:"username"`
}

func (id *Identity) requestLogin(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args RequestLoginArgs
	if err := id.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	rec, err := id.loadUser(r.Context(), args.Username)
	if err != nil {
		return nil, err
	}
	sess, err := id.sessions.Request(r.Context(), rec.UserUID, rec.Account)
	if err != nil {
		return nil, err
	}
	return id.seal(req, map[string]any{
		"session_uid": sess.UID,
		"status":      sess.Status,
	}, nil)
}

type LoginArgs struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	OTPCode     string `json:"otp_code"`
	SessionUID  string `json:"session_uid"`
	Certificate string `json:"certificate"`
}

// login validates password and one-time code together and, on success,
// approves the pending session with the device's certificate. The
// device keeps the matching signing key; it never travels.
func (id *Identity) login(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args LoginArgs
	if err := id.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	rec, err := id.loadUser(r.Context(), args.Username)
	if err != nil {
		return nil, err
	}
	if _, err := rec.Account.ValidatePassword(args.Password, args.OTPCode); err != nil {
		return nil, err
	}

	cert, err := keys.NewPublicKeyFromString(args.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: unusable device certificate", wire.ErrValue)
	}

	sess, err := id.sessions.Lookup(r.Context(), args.SessionUID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown login session", wire.ErrPermission)
	}
	if sess.SanitisedUsername != rec.Account.SanitisedName {
		return nil, fmt.Errorf("%w: session belongs to another user", wire.ErrPermission)
	}

	sess, err = id.sessions.Approve(r.Context(), args.SessionUID, cert)
	if err != nil {
		return nil, err
	}
	id.Logger.Info("login approved", "username", rec.Account.SanitisedName, "session", sess.UID)
	// the key pair travels only in its password envelope; the device
	// opens it locally with the password it already holds
	return id.seal(req, map[string]any{
		"session_uid":        sess.UID,
		"status":             sess.Status,
		"user_uid":           rec.UserUID,
		"encrypted_key_pair": rec.Account.EncryptedKeyPair,
	}, nil)
}

type WhoisArgs struct {
	Authorisation *wire.Authorisation `json:"authorisation"`
	Payload       json.RawMessage     `json:"payload"`
}

// whois verifies an authorisation on behalf of another service: the
// session must be live and must have signed exactly the payload the
// calling service received. Returns the session's resolved identity.
func (id *Identity) whois(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args WhoisArgs
	if err := id.decodeArgs(req, &args); err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(args.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", wire.ErrValue)
	}

	sess, err := id.sessions.VerifyAuthorisation(r.Context(), args.Authorisation, payload)
	if err != nil {
		return nil, err
	}
	return id.seal(req, map[string]any{
		"user_uid":    sess.UserUID,
		"username":    sess.Username,
		"session_uid": sess.UID,
		"status":      sess.Status,
	}, nil)
}

type LogoutArgs struct {
	Username   string `json:"username"`
	SessionUID string `json:"session_uid"`
	Permission string `json:"permission"`
	Signature  []byte `json:"signature"`
}

// logout ends a session. Logging out a session that is already gone
// reports success with an explanatory log line; the end state the
// caller wanted already holds.
func (id *Identity) logout(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args LogoutArgs
	if err := id.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	log, err := id.sessions.Logout(r.Context(), args.Username, args.SessionUID,
		args.Permission, args.Signature)
	if err != nil {
		return nil, err
	}
	return id.seal(req, map[string]any{"logged_out": true}, log)
}

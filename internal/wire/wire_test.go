package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetfin/signet/internal/keys"
)

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"y": "z", "x": "w"}}
	b := map[string]any{"nested": map[string]any{"x": "w", "y": "z"}, "a": 1, "b": 2}

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestCanonicalStructsAndMapsAgree(t *testing.T) {
	type payload struct {
		UserUID string `json:"user_uid"`
		Amount  string `json:"amount"`
	}
	cs, err := Canonical(payload{UserUID: "u-1", Amount: "3.50"})
	require.NoError(t, err)
	cm, err := Canonical(map[string]string{"amount": "3.50", "user_uid": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, cs, cm)
}

func TestAuthorisationBindsToPayload(t *testing.T) {
	cert, sk, err := keys.GenerateSigningKey()
	require.NoError(t, err)

	payload := map[string]string{"debit": "a-1", "credit": "a-2", "amount": "30"}
	auth, err := Authorise("s-1", sk, payload)
	require.NoError(t, err)

	require.NoError(t, auth.Verify(cert, payload))

	// replay against a different payload must fail
	tampered := map[string]string{"debit": "a-1", "credit": "a-3", "amount": "30"}
	assert.ErrorIs(t, auth.Verify(cert, tampered), ErrPermission)

	// wrong certificate must fail
	otherCert, _, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	assert.ErrorIs(t, auth.Verify(otherCert, payload), ErrPermission)

	var missing *Authorisation
	assert.ErrorIs(t, missing.Verify(cert, payload), ErrPermission)
}

type echoArgs struct {
	Greeting string `json:"greeting"`
}

func TestSecureChannelRoundTrip(t *testing.T) {
	_, sign, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	exchange, err := keys.GenerateExchangeKey()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var args echoArgs
		require.NoError(t, DecodeArgs(exchange, &req, &args))

		resp, err := SealResponse(sign, req.ResponseKey,
			map[string]string{"echo": args.Greeting}, nil)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	channel := NewSecureChannelWithClient(srv.Client())
	payload, _, err := channel.Call(context.Background(), srv.URL,
		echoArgs{Greeting: "hello"}, exchange.PublicKey(), sign.Public())
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, "hello", out["echo"])
}

func TestSecureChannelRejectsWrongSigner(t *testing.T) {
	_, serviceSign, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	impostorCert, _, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	exchange, err := keys.GenerateExchangeKey()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp, err := SealResponse(serviceSign, req.ResponseKey, map[string]string{"ok": "1"}, nil)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	channel := NewSecureChannelWithClient(srv.Client())
	_, _, err = channel.Call(context.Background(), srv.URL,
		echoArgs{Greeting: "hi"}, exchange.PublicKey(), impostorCert)
	assert.ErrorIs(t, err, ErrServiceIdentity)
}

func TestSecureChannelSurfacesRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CallResponse{Status: -1, Message: "boom", Log: []string{"detail"}})
	}))
	defer srv.Close()

	exchange, err := keys.GenerateExchangeKey()
	require.NoError(t, err)
	cert, _, err := keys.GenerateSigningKey()
	require.NoError(t, err)

	channel := NewSecureChannelWithClient(srv.Client())
	_, resp, err := channel.Call(context.Background(), srv.URL,
		echoArgs{}, exchange.PublicKey(), cert)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
	assert.Equal(t, []string{"detail"}, remote.Log)
	assert.Equal(t, -1, resp.Status)
}

func TestDecodeArgsRejectsForeignSeal(t *testing.T) {
	ours, err := keys.GenerateExchangeKey()
	require.NoError(t, err)
	theirs, err := keys.GenerateExchangeKey()
	require.NoError(t, err)

	sealed, err := keys.Seal(theirs.PublicKey(), []byte(`{"greeting":"hi"}`))
	require.NoError(t, err)

	var args echoArgs
	err = DecodeArgs(ours, &CallRequest{EncryptedArgs: sealed.Bytes()}, &args)
	assert.ErrorIs(t, err, ErrValue)

	err = DecodeArgs(ours, &CallRequest{}, &args)
	assert.ErrorIs(t, err, ErrValue)
}

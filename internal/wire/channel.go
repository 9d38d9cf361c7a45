package wire

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signetfin/signet/internal/keys"
)

// RemoteError is a failure reported by the remote service through the
// response envelope.
type RemoteError struct {
	Message string
	Log     []string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call failed: %s", e.Message)
}

// SecureChannel frames encrypted calls to a service endpoint. It is a
// pure framing and encryption layer: no retries, no backoff.
type SecureChannel struct {
	client *http.Client
}

// NewSecureChannel returns a channel using a default HTTP client.
func NewSecureChannel() *SecureChannel {
	return &SecureChannel{client: &http.Client{Timeout: 30 * time.Second}}
}

// NewSecureChannelWithClient returns a channel over the given HTTP
// client. Tests use this with httptest servers.
func NewSecureChannelWithClient(client *http.Client) *SecureChannel {
	return &SecureChannel{client: client}
}

// Call seals args to servicePub, supplies a fresh call-scoped response
// key, posts to endpoint, decrypts the reply and verifies that it was
// signed by expectedCert. Any identity mismatch fails closed with
// ErrServiceIdentity.
func (c *SecureChannel) Call(ctx context.Context, endpoint string, args any, servicePub *ecdh.PublicKey, expectedCert keys.PublicKey) (json.RawMessage, *CallResponse, error) {
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValue, err)
	}

	sealed, err := keys.Seal(servicePub, argsRaw)
	if err != nil {
		return nil, nil, err
	}

	// call-scoped response key; never reused
	responseKey, err := keys.GenerateExchangeKey()
	if err != nil {
		return nil, nil, err
	}

	reqBody, err := json.Marshal(CallRequest{
		EncryptedArgs: sealed.Bytes(),
		ResponseKey:   responseKey.PublicKey().Bytes(),
	})
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.post(ctx, endpoint, reqBody)
	if err != nil {
		return nil, nil, err
	}

	if resp.Status != 0 {
		return nil, resp, &RemoteError{Message: resp.Message, Log: resp.Log}
	}

	payload, err := verifyAndOpen(resp, responseKey, expectedCert)
	if err != nil {
		return nil, resp, err
	}
	return payload, resp, nil
}

// CallClear posts args without encryption. Only the identity bootstrap
// uses this; the response signature is still verified when
// expectedCert is known.
func (c *SecureChannel) CallClear(ctx context.Context, endpoint string, args any) (json.RawMessage, *CallResponse, error) {
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValue, err)
	}
	reqBody, err := json.Marshal(CallRequest{Args: argsRaw})
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.post(ctx, endpoint, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if resp.Status != 0 {
		return nil, resp, &RemoteError{Message: resp.Message, Log: resp.Log}
	}
	return resp.Payload, resp, nil
}

func (c *SecureChannel) post(ctx context.Context, endpoint string, body []byte) (*CallResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceIdentity, err)
	}
	defer httpResp.Body.Close()

	var resp CallResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: undecodable response", ErrServiceIdentity)
	}
	return &resp, nil
}

func verifyAndOpen(resp *CallResponse, responseKey *ecdh.PrivateKey, expectedCert keys.PublicKey) (json.RawMessage, error) {
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: response carried no encrypted data", ErrServiceIdentity)
	}
	if !expectedCert.Verify(resp.Data, resp.Signature) {
		return nil, fmt.Errorf("%w: response not signed by expected service", ErrServiceIdentity)
	}

	sealed, err := keys.ParseSealed(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceIdentity, err)
	}
	payload, err := keys.Open(responseKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceIdentity, err)
	}
	return payload, nil
}

// DecodeArgs is the server-side counterpart of Call: it opens the
// request's argument blob with the service's exchange key, or falls
// back to clear args for bootstrap endpoints.
func DecodeArgs(exchange *ecdh.PrivateKey, req *CallRequest, v any) error {
	var raw []byte
	switch {
	case len(req.EncryptedArgs) > 0:
		sealed, err := keys.ParseSealed(req.EncryptedArgs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValue, err)
		}
		raw, err = keys.Open(exchange, sealed)
		if err != nil {
			return fmt.Errorf("%w: arguments were not sealed to this service", ErrValue)
		}
	case len(req.Args) > 0:
		raw = req.Args
	default:
		return fmt.Errorf("%w: request carried no arguments", ErrValue)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrValue, err)
	}
	return nil
}

// SealResponse builds a success envelope: payload sealed to the
// caller's response key and signed with the service's signing key. If
// the caller supplied no response key the payload travels in clear,
// still signed.
func SealResponse(sign keys.PrivateKey, responseKey []byte, payload any, log []string) (*CallResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if len(responseKey) == 0 {
		return &CallResponse{
			Status:    0,
			Log:       log,
			Payload:   raw,
			Signature: sign.Sign(raw),
		}, nil
	}

	pub, err := keys.ParseExchangePublicKey(responseKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad response key", ErrValue)
	}
	sealed, err := keys.Seal(pub, raw)
	if err != nil {
		return nil, err
	}
	data := sealed.Bytes()
	return &CallResponse{
		Status:    0,
		Log:       log,
		Data:      data,
		Signature: sign.Sign(data),
	}, nil
}

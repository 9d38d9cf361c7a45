// Package wire implements the encrypted call envelope that all
// cross-service traffic rides on. Arguments are sealed to the target
// service's exchange key, responses are sealed to a fresh call-scoped
// key supplied by the caller, and every response is signed by the
// service's certificate.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

var (
	// ErrServiceIdentity is returned when the remote party is not the
	// service we expected: wrong type, bad signature, unreachable.
	ErrServiceIdentity = errors.New("service identity could not be verified")
	// ErrPermission is returned for unauthenticated or unauthorized
	// actions.
	ErrPermission = errors.New("permission denied")
	// ErrValue is returned for malformed call arguments.
	ErrValue = errors.New("invalid argument")
)

// CallRequest is the body of every POST to a service endpoint. Either
// EncryptedArgs (sealed to the service's exchange key) or, for the
// unauthenticated identity bootstrap only, clear Args is set.
// ResponseKey is the caller's fresh P-256 public key; the response is
// sealed to it and the key is never reused across calls.
type CallRequest struct {
	EncryptedArgs []byte          `json:"encrypted_args,omitempty"`
	ResponseKey   []byte          `json:"response_key,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
}

// CallResponse is the status-tagged reply envelope. Status 0 means
// success; -1 carries a message and never a stack trace. Data is
// sealed to the caller's response key and Signature covers exactly the
// bytes the caller will decrypt.
type CallResponse struct {
	Status    int             `json:"status"`
	Message   string          `json:"message,omitempty"`
	Log       []string        `json:"log,omitempty"`
	Data      []byte          `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Signature []byte          `json:"signature,omitempty"`
}

// Canonical returns a deterministic JSON encoding of v: object keys
// sorted at every level, no insignificant whitespace. Every signature
// in the system is computed over this form so that a signature binds
// to the payload content, not to one accidental serialization of it.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}
}

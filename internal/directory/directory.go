// Package directory resolves service identities. Every service
// publishes its identity at its root endpoint; the directory fetches
// it, checks the declared type, verifies the self-signature and caches
// the result. A stale canonical URL is a self-correcting pointer, not
// an error.
package directory

import (
	"context"
	"crypto/ecdh"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/wire"
)

// ServiceType distinguishes the two service roles.
type ServiceType string

const (
	IdentityService   ServiceType = "identity"
	AccountingService ServiceType = "accounting"
)

// ServiceInfo is a service's declared identity. Immutable once
// resolved.
type ServiceInfo struct {
	UID               string      `json:"uid"`
	ServiceType       ServiceType `json:"service_type"`
	CanonicalURL      string      `json:"canonical_url"`
	PublicKey         []byte      `json:"public_key"`
	PublicCertificate string      `json:"public_certificate"`
}

// ExchangeKey parses the service's exchange key, used to seal call
// arguments to it.
func (s *ServiceInfo) ExchangeKey() (*ecdh.PublicKey, error) {
	return keys.ParseExchangePublicKey(s.PublicKey)
}

// Certificate parses the service's signing certificate.
func (s *ServiceInfo) Certificate() (keys.PublicKey, error) {
	return keys.NewPublicKeyFromString(s.PublicCertificate)
}

type bootstrapPayload struct {
	ServiceInfo ServiceInfo `json:"service_info"`
}

// Directory caches resolved service identities by dialed URL.
type Directory struct {
	channel *wire.SecureChannel

	mu    sync.Mutex
	cache map[string]*ServiceInfo
}

// New returns a directory resolving over the given channel.
func New(channel *wire.SecureChannel) *Directory {
	return &Directory{channel: channel, cache: make(map[string]*ServiceInfo)}
}

// Resolve returns the identity of the service at url, requiring it to
// declare the wanted type. A mismatch between the dialed URL and the
// declared canonical URL is healed by re-resolving once and keeping
// the dialed URL as the reachable address.
func (d *Directory) Resolve(ctx context.Context, url string, want ServiceType) (*ServiceInfo, error) {
	d.mu.Lock()
	if info, ok := d.cache[url]; ok {
		d.mu.Unlock()
		if info.ServiceType != want {
			return nil, fmt.Errorf("%w: service at %s is %q, wanted %q",
				wire.ErrServiceIdentity, url, info.ServiceType, want)
		}
		return info, nil
	}
	d.mu.Unlock()

	info, err := d.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if info.CanonicalURL != url {
		// stale pointer: re-resolve once, then adopt the dialed URL as
		// the reachable address
		if refreshed, err := d.fetch(ctx, url); err == nil {
			info = refreshed
		}
		info.CanonicalURL = url
	}

	if info.ServiceType != want {
		return nil, fmt.Errorf("%w: service at %s is %q, wanted %q",
			wire.ErrServiceIdentity, url, info.ServiceType, want)
	}

	d.mu.Lock()
	d.cache[url] = info
	d.mu.Unlock()
	return info, nil
}

func (d *Directory) fetch(ctx context.Context, url string) (*ServiceInfo, error) {
	payload, resp, err := d.channel.CallClear(ctx, url, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("%w: no service info from %s: %v", wire.ErrServiceIdentity, url, err)
	}

	var boot bootstrapPayload
	if err := json.Unmarshal(payload, &boot); err != nil {
		return nil, fmt.Errorf("%w: undecodable service info from %s", wire.ErrServiceIdentity, url)
	}
	info := boot.ServiceInfo

	// the bootstrap is unauthenticated, but the declared certificate
	// must at least have signed the payload we just read
	cert, err := info.Certificate()
	if err != nil {
		return nil, fmt.Errorf("%w: bad certificate from %s", wire.ErrServiceIdentity, url)
	}
	if !cert.Verify(payload, resp.Signature) {
		return nil, fmt.Errorf("%w: service info from %s not signed by its own certificate",
			wire.ErrServiceIdentity, url)
	}
	return &info, nil
}

// Package client is the calling side of the system: user login and
// session handling against the identity service, and account handles
// against the accounting service. All traffic rides the encrypted call
// envelope; service identities are resolved and pinned through the
// directory.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/wire"
)

// Client holds the channel and directory shared by all handles.
type Client struct {
	channel *wire.SecureChannel
	dir     *directory.Directory
}

// New returns a client with a default HTTP transport.
func New() *Client {
	channel := wire.NewSecureChannel()
	return &Client{channel: channel, dir: directory.New(channel)}
}

// NewWithHTTPClient returns a client over the given HTTP client. Tests
// use this with httptest servers.
func NewWithHTTPClient(hc *http.Client) *Client {
	channel := wire.NewSecureChannelWithClient(hc)
	return &Client{channel: channel, dir: directory.New(channel)}
}

// call resolves the service at url, requires it to be of the wanted
// type, performs one encrypted call and decodes the payload into out.
func (c *Client) call(ctx context.Context, url string, want directory.ServiceType, endpoint string, args, out any) (*wire.CallResponse, error) {
	info, err := c.dir.Resolve(ctx, url, want)
	if err != nil {
		return nil, err
	}
	exchange, err := info.ExchangeKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrServiceIdentity, err)
	}
	cert, err := info.Certificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrServiceIdentity, err)
	}

	payload, resp, err := c.channel.Call(ctx, info.CanonicalURL+endpoint, args, exchange, cert)
	if err != nil {
		return resp, err
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp, fmt.Errorf("%w: undecodable payload from %s", wire.ErrServiceIdentity, endpoint)
		}
	}
	return resp, nil
}

// Package secrets resolves opaque credential references against the secret
// store. Credential material never enters business logic; everything above
// this package passes references around.
package secrets

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sendpool/account-manager-go/internal/rpc"
)

type Client struct {
	rpc *rpc.Client
}

func NewClient(rpcClient *rpc.Client) *Client {
	return &Client{rpc: rpcClient}
}

// Fetch retrieves the secret stored at the given path. Transient store
// failures are retried by the underlying RPC client.
func (c *Client) Fetch(ctx context.Context, path string) (string, error) {
	var resp struct {
		Value string `json:"value"`
	}
	if err := c.rpc.Do(ctx, http.MethodGet, "/secrets/"+url.PathEscape(path), nil, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

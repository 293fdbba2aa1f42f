package platform

import (
	"context"
	"errors"
	"net/http"

	"github.com/sendpool/account-manager-go/internal/rpc"
	"github.com/sendpool/account-manager-go/internal/secrets"
)

// HTTPAdapter calls the platform-facing send service over HTTP. The
// credential reference is resolved through the secret store right before the
// call; the resolved handle travels only inside this request.
type HTTPAdapter struct {
	rpc     *rpc.Client
	secrets *secrets.Client
}

func NewHTTPAdapter(rpcClient *rpc.Client, secretsClient *secrets.Client) *HTTPAdapter {
	return &HTTPAdapter{rpc: rpcClient, secrets: secretsClient}
}

var _ Adapter = (*HTTPAdapter)(nil)

func (a *HTTPAdapter) Send(ctx context.Context, req SendRequest) (*RawOutcome, error) {
	credential, err := a.secrets.Fetch(ctx, req.CredentialRef)
	if err != nil {
		return nil, err
	}

	body := struct {
		Credential string `json:"credential"`
		Action     string `json:"action"`
		Target     string `json:"target"`
		Payload    string `json:"payload"`
		Channel    string `json:"channel,omitempty"`
	}{
		Credential: credential,
		Action:     string(req.Action),
		Target:     req.Target,
		Payload:    req.Payload,
		Channel:    req.Channel,
	}

	var outcome RawOutcome
	if err := a.rpc.Do(ctx, http.MethodPost, "/send", body, &outcome); err != nil {
		// Platform-level refusals come back in the outcome body; a 4xx/5xx
		// here is transport, not a classified result.
		var apiErr *rpc.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return &RawOutcome{Code: apiErr.Code, Message: apiErr.Message}, nil
		}
		return nil, err
	}
	return &outcome, nil
}

package voteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/BookshelfGo/pkg/httpclient"
)

const remoteName = "review-service"

// HTTPDoer sends a request. httpclient.Client and
// httpclient.CircuitBreakerClient both satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenSource returns the bearer token for the current viewer.
type TokenSource func(ctx context.Context) (string, error)

// HTTPRemote casts votes through the review service's REST API.
type HTTPRemote struct {
	baseURL string
	client  HTTPDoer
	token   TokenSource
}

// NewHTTPRemote creates a remote that talks to baseURL through client.
func NewHTTPRemote(baseURL string, client HTTPDoer, token TokenSource) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		token:   token,
	}
}

// NewDefaultHTTPRemote wires an HTTPRemote with the default client settings
// behind a circuit breaker.
func NewDefaultHTTPRemote(baseURL string, token TokenSource, logger *slog.Logger) *HTTPRemote {
	base := httpclient.New(httpclient.DefaultConfig())
	cb := httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig(remoteName), logger)
	return NewHTTPRemote(baseURL, cb, token)
}

type voteRequest struct {
	Type VoteType `json:"type"`
}

type voteEnvelope struct {
	Data *struct {
		ReviewID string `json:"review_id"`
		Tally
	} `json:"data"`
}

// SetVote implements Remote.
func (r *HTTPRemote) SetVote(ctx context.Context, reviewID string, intent VoteType) (Tally, error) {
	body, err := json.Marshal(voteRequest{Type: intent})
	if err != nil {
		return Tally{}, fmt.Errorf("marshal vote request: %w", err)
	}

	endpoint := r.baseURL + "/api/v1/reviews/" + url.PathEscape(reviewID) + "/vote"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Tally{}, fmt.Errorf("create vote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if r.token != nil {
		token, err := r.token(ctx)
		if err != nil {
			return Tally{}, fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return Tally{}, fmt.Errorf("call review service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Tally{}, httpclient.ParseResponseError(resp, remoteName)
	}
	defer resp.Body.Close()

	var env voteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Tally{}, fmt.Errorf("decode vote response: %w", err)
	}
	if env.Data == nil {
		return Tally{}, errors.New("decode vote response: missing data")
	}
	return env.Data.Tally, nil
}

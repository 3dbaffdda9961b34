// Package api is the typed client for the knowledge-base backend. It attaches
// the stored bearer token to every request and recovers expired sessions
// through the refresh endpoint before the caller ever sees a 401.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/pkg/httpx"
	"github.com/hatcher/kbchat/pkg/logs"
	"github.com/hatcher/kbchat/token"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const refreshPath = "/auth/refresh"

type Config struct {
	BaseURL  string        `json:"baseUrl" yaml:"base-url" mapstructure:"base-url"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	PrintLog bool          `json:"printLog" yaml:"print-log" mapstructure:"print-log"`
}

func (cfg *Config) Prepare() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

type Client struct {
	http   *httpx.Client
	tokens token.Store
	// refreshGroup collapses concurrent refresh attempts into a single
	// network call; every 401'd request joins the in-flight one.
	refreshGroup singleflight.Group
	printLog     bool
	onAuthLost   func()
}

func New(cfg Config, store token.Store) *Client {
	cfg.Prepare()
	return &Client{
		http:     httpx.NewClient(cfg.BaseURL, cfg.Timeout),
		tokens:   store,
		printLog: cfg.PrintLog,
	}
}

// SetAuthLostHandler registers the hook invoked when the session cannot be
// recovered (the web UI redirects to the login page here).
func (c *Client) SetAuthLostHandler(fn func()) {
	c.onAuthLost = fn
}

// Tokens exposes the underlying store, mainly for claim inspection.
func (c *Client) Tokens() token.Store {
	return c.tokens
}

// Envelope is the uniform response wrapper used by every endpoint.
type Envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Data       json.RawMessage    `json:"data"`
	Errors     map[string]string  `json:"errors,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

func decodeData[T any](env *Envelope) (*T, error) {
	var out T
	if len(env.Data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, errors.WithMessage(err, "decode response data")
	}
	return &out, nil
}

// call issues the request with the stored access token and runs the
// refresh-and-retry protocol on 401. The retry happens at most once.
func (c *Client) call(ctx context.Context, opt *httpx.RequestOption) (*Envelope, error) {
	opt.PrintLog = c.printLog
	opt.Sensitive = true

	pair, err := c.tokens.Load(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "load token pair")
	}
	if pair.AccessToken != "" {
		opt.Headers["Authorization"] = "Bearer " + pair.AccessToken
	}

	resp, err := c.http.Do(ctx, opt)
	if err != nil {
		return nil, errors.WithMessagef(err, "request %s %s failed", opt.Method, opt.Path)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		newPair, err := c.refreshTokens(ctx)
		if err != nil {
			return nil, err
		}
		opt.Headers["Authorization"] = "Bearer " + newPair.AccessToken
		resp, err = c.http.Do(ctx, opt)
		if err != nil {
			return nil, errors.WithMessagef(err, "retry %s %s failed", opt.Method, opt.Path)
		}
	}

	return decodeEnvelope(resp)
}

func decodeEnvelope(resp *http.Response) (*Envelope, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithMessage(err, "read response body")
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
		}
		return nil, errors.WithMessage(err, "decode response envelope")
	}
	if resp.StatusCode >= 400 || !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message, Errors: env.Errors}
	}
	return &env, nil
}

// refreshTokens rotates the token pair. No matter how many requests hit a
// 401 at once, exactly one refresh call goes out; the rest wait for its
// result. Any failure clears the stored pair and surfaces ErrAuthExpired.
func (c *Client) refreshTokens(ctx context.Context) (token.Pair, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		pair, err := c.tokens.Load(ctx)
		if err != nil {
			return nil, err
		}
		if pair.RefreshToken == "" {
			return nil, errors.New("no refresh token stored")
		}

		opt := httpx.NewRequestOption(
			httpx.WithMethodPost(),
			httpx.WithPath(refreshPath),
			httpx.WithHeader("Authorization", "Bearer "+pair.RefreshToken),
			httpx.WithPrintLog(c.printLog),
			httpx.WithSensitive(true),
		)
		resp, err := c.http.Do(ctx, opt)
		if err != nil {
			return nil, errors.WithMessage(err, "refresh request failed")
		}
		env, err := decodeEnvelope(resp)
		if err != nil {
			return nil, err
		}
		newPair, err := decodeData[token.Pair](env)
		if err != nil {
			return nil, err
		}
		if err := c.tokens.Save(ctx, *newPair); err != nil {
			return nil, errors.WithMessage(err, "save refreshed token pair")
		}
		return *newPair, nil
	})
	if err != nil {
		logs.Warnf("token refresh failed, dropping session: %v", err)
		c.dropAuth(ctx)
		return token.Pair{}, errors.WithMessagef(ErrAuthExpired, "%v", err)
	}
	return v.(token.Pair), nil
}

func (c *Client) dropAuth(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		logs.Warnf("failed to clear token store: %v", err)
	}
	if c.onAuthLost != nil {
		c.onAuthLost()
	}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (*Envelope, error) {
	opts := []httpx.Option{httpx.WithMethodGet(), httpx.WithPath(path)}
	if len(query) > 0 {
		opts = append(opts, httpx.WithQuery(query))
	}
	return c.call(ctx, httpx.NewRequestOption(opts...))
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*Envelope, error) {
	opts := []httpx.Option{httpx.WithMethodPost(), httpx.WithPath(path)}
	if body != nil {
		opts = append(opts, httpx.WithBody(body))
	}
	return c.call(ctx, httpx.NewRequestOption(opts...))
}

func (c *Client) put(ctx context.Context, path string, body interface{}) (*Envelope, error) {
	return c.call(ctx, httpx.NewRequestOption(
		httpx.WithMethodPut(),
		httpx.WithPath(path),
		httpx.WithBody(body),
	))
}

func (c *Client) delete(ctx context.Context, path string) (*Envelope, error) {
	return c.call(ctx, httpx.NewRequestOption(
		httpx.WithMethodDelete(),
		httpx.WithPath(path),
	))
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/pkg/httpx"
	"github.com/hatcher/kbchat/stream"
	"github.com/pkg/errors"
)

// History returns one page of the session list, newest first.
func (c *Client) History(ctx context.Context, page, perPage int) ([]models.Session, *models.Pagination, error) {
	env, err := c.get(ctx, "/api/history", map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	})
	if err != nil {
		return nil, nil, err
	}
	sessions, err := decodeData[[]models.Session](env)
	if err != nil {
		return nil, nil, err
	}
	return *sessions, env.Pagination, nil
}

type newSessionRequest struct {
	Title          string `json:"title,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}

// NewSession creates a session; the server falls back to a default title.
func (c *Client) NewSession(ctx context.Context, title, initialMessage string) (*models.Session, error) {
	env, err := c.post(ctx, "/api/chat/new", newSessionRequest{Title: title, InitialMessage: initialMessage})
	if err != nil {
		return nil, err
	}
	return decodeData[models.Session](env)
}

type SessionDetail struct {
	Session  models.Session   `json:"session"`
	Messages []models.Message `json:"messages"`
}

// GetSession loads one session together with its ordered messages.
func (c *Client) GetSession(ctx context.Context, id int64) (*SessionDetail, error) {
	env, err := c.get(ctx, fmt.Sprintf("/api/chat/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeData[SessionDetail](env)
}

type updateSessionRequest struct {
	Title string `json:"title"`
}

func (c *Client) UpdateSessionTitle(ctx context.Context, id int64, title string) (*models.Session, error) {
	env, err := c.put(ctx, fmt.Sprintf("/api/chat/%d", id), updateSessionRequest{Title: title})
	if err != nil {
		return nil, err
	}
	return decodeData[models.Session](env)
}

func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	_, err := c.delete(ctx, fmt.Sprintf("/api/chat/%d", id))
	return err
}

type SendMessageRequest struct {
	Message       string  `json:"message"`
	IsDeepThought bool    `json:"is_deep_thought,omitempty"`
	DocIDs        []int64 `json:"doc_ids,omitempty"`
	Model         string  `json:"model,omitempty"`
}

// SendMessage posts a message and waits for the complete reply.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, req SendMessageRequest) (*models.Message, error) {
	env, err := c.post(ctx, fmt.Sprintf("/api/chat/%d/message", sessionID), req)
	if err != nil {
		return nil, err
	}
	return decodeData[models.Message](env)
}

// StreamMessage posts a message to the streaming endpoint and returns the
// open event stream. Closing the stream aborts the reply mid-flight. The
// same 401 recovery applies: status is known before any body is read, so a
// stale token is refreshed and the request reissued once.
func (c *Client) StreamMessage(ctx context.Context, sessionID int64, req SendMessageRequest) (*stream.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	opt := httpx.NewRequestOption(
		httpx.WithMethodPost(),
		httpx.WithPath(fmt.Sprintf("/api/chat/%d/stream", sessionID)),
		httpx.WithBody(req),
		httpx.WithHeader("Accept", "text/event-stream"),
		httpx.WithPrintLog(c.printLog),
		httpx.WithSensitive(true),
	)

	pair, err := c.tokens.Load(ctx)
	if err != nil {
		cancel()
		return nil, errors.WithMessage(err, "load token pair")
	}
	if pair.AccessToken != "" {
		opt.Headers["Authorization"] = "Bearer " + pair.AccessToken
	}

	resp, err := c.http.DoStream(ctx, opt)
	if err != nil {
		cancel()
		return nil, errors.WithMessage(err, "open message stream")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		newPair, err := c.refreshTokens(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		opt.Headers["Authorization"] = "Bearer " + newPair.AccessToken
		resp, err = c.http.DoStream(ctx, opt)
		if err != nil {
			cancel()
			return nil, errors.WithMessage(err, "reopen message stream")
		}
	}

	if resp.StatusCode != http.StatusOK {
		_, err := decodeEnvelope(resp)
		cancel()
		if err != nil {
			return nil, err
		}
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	return stream.New(resp.Body, cancel), nil
}

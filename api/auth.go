package api

import (
	"context"

	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/pkg/logs"
	"github.com/hatcher/kbchat/token"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user,omitempty"`
}

// Register creates an account and stores the issued token pair.
func (c *Client) Register(ctx context.Context, username, password string) (*models.User, error) {
	env, err := c.post(ctx, "/auth/register", credentialsRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return c.adoptTokens(ctx, env)
}

// Login authenticates and stores the issued token pair.
func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	env, err := c.post(ctx, "/auth/login", credentialsRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return c.adoptTokens(ctx, env)
}

func (c *Client) adoptTokens(ctx context.Context, env *Envelope) (*models.User, error) {
	data, err := decodeData[authResponse](env)
	if err != nil {
		return nil, err
	}
	pair := token.Pair{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}
	if err := c.tokens.Save(ctx, pair); err != nil {
		return nil, err
	}
	return data.User, nil
}

// Me returns the currently authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	env, err := c.get(ctx, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	return decodeData[models.User](env)
}

// Logout tells the server to end the session and clears the stored pair.
// Local tokens are dropped even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.post(ctx, "/auth/logout", nil)
	if clearErr := c.tokens.Clear(ctx); clearErr != nil {
		logs.Warnf("failed to clear token store on logout: %v", clearErr)
	}
	return err
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword rotates the password. The server issues a fresh token pair
// which replaces the stored one.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	env, err := c.post(ctx, "/auth/change-password", changePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return err
	}
	_, err = c.adoptTokens(ctx, env)
	return err
}

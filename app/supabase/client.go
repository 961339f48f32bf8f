// Package supabase talks to Supabase Auth (GoTrue) for account signup.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrWeakPassword  = errors.New("password rejected by auth provider")
	ErrNotConfigured = errors.New("supabase not configured")
)

type httpError struct {
	Status int
	Code   string
	Body   string
}

func (e httpError) Error() string {
	return fmt.Sprintf("supabase http %d (%s): %s", e.Status, e.Code, e.Body)
}

type Client struct {
	baseURL string
	anonKey string
	httpc   *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SignupRequest is sent to /auth/v1/signup. Metadata ends up in the user's
// raw_user_meta_data.
type SignupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type AuthUser struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Identities []json.RawMessage `json:"identities"`
}

type signupResponse struct {
	AuthUser
	AccessToken string    `json:"access_token"`
	User        *AuthUser `json:"user"`
}

// SignUp registers an email/password account and returns the new user id.
func (c *Client) SignUp(ctx context.Context, req SignupRequest) (AuthUser, error) {
	const op = "supabase.SignUp"

	if c.baseURL == "" || c.anonKey == "" {
		return AuthUser{}, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	var resp signupResponse
	if err := c.postJSON(ctx, "/auth/v1/signup", req, &resp); err != nil {
		var he httpError
		if errors.As(err, &he) {
			switch he.Code {
			case "user_already_exists", "email_exists":
				return AuthUser{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
			case "weak_password":
				return AuthUser{}, fmt.Errorf("%s: %w", op, ErrWeakPassword)
			}
		}
		return AuthUser{}, fmt.Errorf("%s: %w", op, err)
	}

	// with autoconfirm on the user is nested next to the session
	user := resp.AuthUser
	if resp.User != nil {
		user = *resp.User
	}
	if user.ID == "" {
		return AuthUser{}, fmt.Errorf("%s: response without user id", op)
	}
	// GoTrue hides existing confirmed emails behind a user with no identities
	if user.Identities != nil && len(user.Identities) == 0 {
		return AuthUser{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	return user, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return json.NewDecoder(res.Body).Decode(out)
	}

	var msg struct {
		Code      any    `json:"code"`
		ErrorCode string `json:"error_code"`
		Msg       string `json:"msg"`
		Message   string `json:"message"`
		ErrorDesc string `json:"error_description"`
	}
	_ = json.NewDecoder(res.Body).Decode(&msg)

	he := httpError{Status: res.StatusCode, Code: msg.ErrorCode}
	if code, ok := msg.Code.(string); ok && he.Code == "" {
		he.Code = code
	}
	for _, s := range []string{msg.Msg, msg.Message, msg.ErrorDesc} {
		if s != "" {
			he.Body = s
			break
		}
	}
	return he
}

// Package backend talks to the marketplace REST API that owns user accounts and listings.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
	"go.uber.org/zap"
)

// ErrUnavailable wraps every transport failure and non-success status.
var ErrUnavailable = errors.New("backend unavailable")

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

type userPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Email  string `json:"email"`
}

type propertyPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// envelope matches the backend's {success, data} shape
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    *T   `json:"data"`
}

// Resolve implements repository.ParticipantRegistry
func (c *Client) Resolve(ctx context.Context, userID string) (*models.Participant, error) {
	var u userPayload
	if err := get(ctx, c, "users/"+url.PathEscape(userID), &u); err != nil {
		return nil, err
	}

	role, err := models.ParseRole(u.Role)
	if err != nil {
		// An account outside the fixed role set cannot take part in a conversation
		return nil, repository.ErrNotFound
	}

	id := u.ID
	if id == "" {
		id = u.UserID
	}
	if id == "" {
		id = userID
	}

	return &models.Participant{
		UserID: id,
		Name:   u.Name,
		Role:   role,
		Email:  u.Email,
	}, nil
}

// GetProperty implements repository.PropertyDirectory
func (c *Client) GetProperty(ctx context.Context, propertyID string) (*repository.Property, error) {
	var p propertyPayload
	if err := get(ctx, c, "properties/"+url.PathEscape(propertyID), &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = propertyID
	}
	return &repository.Property{ID: p.ID, Title: p.Title}, nil
}

func get[T any](ctx context.Context, c *Client, path string, out *T) error {
	endpoint := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token, ok := auth.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("backend request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return repository.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.log.Warn("backend returned error status", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return decode(body, out)
}

// decode accepts either a bare object or the {success, data} envelope
func decode[T any](body []byte, out *T) error {
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
		*out = *env.Data
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: invalid response body: %v", ErrUnavailable, err)
	}
	return nil
}

package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/logger"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api", 2*time.Second, logger.Nop())
	require.NoError(t, err)
	return c
}

func TestResolve_EnvelopeAndToken(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":"a1","name":"Alex","role":"agent","email":"alex@onlyif.test"}}`))
	})

	ctx := auth.WithToken(context.Background(), "tok-123")
	p, err := c.Resolve(ctx, "a1")
	require.NoError(t, err)

	assert.Equal(t, "/api/users/a1", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, models.Participant{UserID: "a1", Name: "Alex", Role: models.RoleAgent, Email: "alex@onlyif.test"}, *p)
}

func TestResolve_BareObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"userId":"s1","name":"Sam","role":"Seller"}`))
	})

	p, err := c.Resolve(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.UserID)
	assert.Equal(t, models.RoleSeller, p.Role)
}

func TestResolve_NotFoundAndUnknownRole(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/users/admin1" {
			w.Write([]byte(`{"id":"admin1","role":"admin"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = c.Resolve(context.Background(), "admin1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolve_UpstreamErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Resolve(context.Background(), "a1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	garbled := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err = garbled.Resolve(context.Background(), "a1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetProperty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/properties/42", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{"id":"42","title":"3BR house in Fitzroy"}}`))
	})

	p, err := c.GetProperty(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "3BR house in Fitzroy", p.Title)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url", time.Second, logger.Nop())
	assert.Error(t, err)
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, time.Second, logger.Nop())
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "a1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

package roster_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/roster"
)

func TestClient_Users(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal(http.MethodGet, r.Method)
		req.Equal("/chat/users", r.URL.Path)
		req.Equal("Bearer T", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":[{"email":"a@x.com"},{"email":""},{"email":"b@x.com"}]}`))
	}))
	defer srv.Close()

	users, err := roster.New(zap.NewNop(), srv.URL).Users(context.Background(), "T")
	req.NoError(err)
	req.Equal([]string{"a@x.com", "b@x.com"}, users)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := roster.New(zap.NewNop(), srv.URL).Users(context.Background(), "bad")
	require.ErrorContains(t, err, "401")
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := roster.New(zap.NewNop(), srv.URL).Users(context.Background(), "T")
	require.Error(t, err)
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPClient_RoundTrip(t *testing.T) {
	var gotAuth string
	var gotCreate map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/games", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(ListResponse{Items: []Record{{"id": "g1", "date": "2025-01-01"}}})
	})
	mux.HandleFunc("POST /collections/games", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotCreate)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreateResponse{ID: "g2"})
	})
	mux.HandleFunc("PATCH /collections/games/g1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /collections/games/g1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewHTTPClient(srv.URL+"/", StaticToken("tok"))

	items, err := c.List(ctx, "games")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "g1", items[0].ID())
	require.Equal(t, "Bearer tok", gotAuth)

	id, err := c.Create(ctx, "games", Record{"id": "local-1", "pending": true, "date": "2025-02-02"})
	require.NoError(t, err)
	require.Equal(t, "g2", id)
	require.Equal(t, map[string]any{"date": "2025-02-02"}, gotCreate, "client-only fields are stripped")

	require.NoError(t, c.Update(ctx, "games", "g1", Record{"date": "2025-03-03"}))
	require.NoError(t, c.Delete(ctx, "games", "g1"))
}

func TestHTTPClient_ClassifiesFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /collections/games/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "not_found", Message: "no such game"})
	})
	mux.HandleFunc("POST /collections/games", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "validation", Message: "date required"})
	})
	mux.HandleFunc("PATCH /collections/games/g1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /collections/games", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewHTTPClient(srv.URL, nil)

	err := c.Delete(ctx, "games", "gone")
	require.True(t, IsNotFound(err))
	require.True(t, IsRejected(err))
	require.False(t, IsNetworkUnreachable(err))

	_, err = c.Create(ctx, "games", Record{})
	require.True(t, IsRejected(err))
	require.Equal(t, CodeValidation, RejectionCode(err))
	require.Contains(t, err.Error(), "date required")

	err = c.Update(ctx, "games", "g1", Record{"date": "x"})
	require.True(t, IsNetworkUnreachable(err))
	var re *Error
	require.True(t, errors.As(err, &re))
	require.Equal(t, http.StatusServiceUnavailable, re.Status)

	_, err = c.List(ctx, "games")
	require.Equal(t, CodeUnauthorized, RejectionCode(err))
}

func TestHTTPClient_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c := NewHTTPClient(baseURL, nil)
	_, err := c.List(context.Background(), "games")
	require.Error(t, err)
	require.True(t, IsNetworkUnreachable(err))
	require.Empty(t, RejectionCode(err))
}

func TestRecord_WirePayload(t *testing.T) {
	r := Record{"id": "x", "pending": true, "date": "d"}
	w := r.WirePayload()
	require.Equal(t, Record{"date": "d"}, w)
	require.Equal(t, "x", r.ID(), "original is not mutated")
	require.Equal(t, Record{}, Record(nil).WirePayload())
}

func TestHTTPClient_TokenFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(ListResponse{})
	}))
	defer srv.Close()
	ctx := context.Background()

	refreshDown := NewHTTPClient(srv.URL, func(context.Context) (string, error) {
		return "", &url.Error{Op: "Post", URL: "http://auth.invalid/token", Err: errors.New("connection refused")}
	})
	_, err := refreshDown.List(ctx, "games")
	require.True(t, IsNetworkUnreachable(err))
	require.Contains(t, err.Error(), "failed to get token")

	noCredentials := NewHTTPClient(srv.URL, func(context.Context) (string, error) {
		return "", errors.New("not signed in")
	})
	_, err = noCredentials.List(ctx, "games")
	require.Error(t, err)
	require.False(t, IsNetworkUnreachable(err))
	require.False(t, IsRejected(err))

	require.Zero(t, calls)
}

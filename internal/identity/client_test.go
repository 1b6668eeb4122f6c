package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/self", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":        "alice",
				"name":      "Alice",
				"email":     "alice@example.com",
				"group_ids": []string{"sales"},
			})
		case "Bearer empty-token":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": ""})
		case "Bearer broken-token":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	u, err := client.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, []string{"sales"}, u.GroupIDs)

	_, err = client.Verify(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// An OK response without a user id is still an invalid token.
	_, err = client.Verify(context.Background(), "empty-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Server-side failures are not conflated with bad credentials.
	_, err = client.Verify(context.Background(), "broken-token")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyUnreachable(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Verify(context.Background(), "any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

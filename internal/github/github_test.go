package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository(t *testing.T) {
	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/repos/alice/app":
			_ = json.NewEncoder(w).Encode(Repository{ID: 7, Name: "app", FullName: "alice/app", DefaultBranch: "main"})
		case "/repos/alice/private":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(context.Background(), "ghp_test", WithBaseURL(srv.URL+"/"))

	repo, err := c.Repository(context.Background(), "alice", "app")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "alice/app", repo.FullName)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "athena-bridge", gotUA)

	repo, err = c.Repository(context.Background(), "alice", "missing")
	require.NoError(t, err)
	assert.Nil(t, repo)

	_, err = c.Repository(context.Background(), "alice", "private")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

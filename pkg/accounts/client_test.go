package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/repositories", r.URL.Path)
		w.Write([]byte(`{"status": 200, "data": [
			{"id": "repo-a", "service": {"location": "http://a.example.com"}},
			{"id": "repo-b", "service": {"location": ""}}
		]}`))
	}))
	defer srv.Close()

	repos, err := NewClient(srv.URL).List(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "repo-a", repos[0].ID)
	assert.Equal(t, "http://a.example.com", repos[0].Service.Location)
	assert.Empty(t, repos[1].Service.Location)
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/repositories/repo-a", r.URL.Path)
		w.Write([]byte(`{"status": 200, "data": {"id": "repo-a", "service": {"location": "http://a.example.com"}}}`))
	}))
	defer srv.Close()

	repo, err := NewClient(srv.URL).Get(context.Background(), "repo-a")
	require.NoError(t, err)
	assert.Equal(t, "repo-a", repo.ID)
	assert.Equal(t, "http://a.example.com", repo.Service.Location)
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).List(context.Background())
	assert.Error(t, err)
}

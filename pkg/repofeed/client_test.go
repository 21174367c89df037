package repofeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repository/repositories/repo-a/assets/identifiers", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "2000-01-01T00:00:00Z", r.URL.Query().Get("from"))

		w.Write([]byte(`{
			"status": 200,
			"data": [{"entity_id": "37cd1397e0814e989fa22da6b15fec60", "source_id": "abc", "source_id_type": "isbn"}],
			"metadata": {"result_range": ["2000-01-01T00:00:00", "2001-01-01T00:00:00"]}
		}`))
	}))
	defer srv.Close()

	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := NewClient().Identifiers(context.Background(), srv.URL, "repo-a", 3, from)
	require.NoError(t, err)

	require.Len(t, page.Data, 1)
	assert.Equal(t, "isbn", page.Data[0].SourceIDType)
	assert.Equal(t, "2001-01-01T00:00:00", page.ResultTo)
}

func TestIdentifiersEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 200, "data": [], "metadata": {}}`))
	}))
	defer srv.Close()

	page, err := NewClient().Identifiers(context.Background(), srv.URL, "repo-a", 1, time.Now())
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Empty(t, page.ResultTo)
}

func TestIdentifiersServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient().Identifiers(context.Background(), srv.URL, "repo-a", 1, time.Now())
	assert.Error(t, err)
}

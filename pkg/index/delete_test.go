package index

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openpermissions/chubindex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deleteStore serves the identifier lookup with canned rows and records any
// SPARQL UPDATE it receives.
type deleteStore struct {
	rows    [][]string // entity, xid, repo
	updates []string
}

func (d *deleteStore) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if u := r.PostForm.Get("update"); u != "" {
			d.updates = append(d.updates, u)
			return
		}

		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		require.NoError(t, cw.Write([]string{"entity", "xid", "repo"}))
		require.NoError(t, cw.WriteAll(d.rows))
		w.Write(buf.Bytes())
	}
}

const (
	entityURI = "http://openpermissions.org/ns/id/deadbeef"
	xidISBN   = "https://digicat.io/ns/xid/isbn/9780123456789"
	xidTitle  = "https://digicat.io/ns/xid/title/premium+edition"
)

func TestDeleteEntity(t *testing.T) {
	store := &deleteStore{rows: [][]string{
		{entityURI, xidISBN, "repo-a"},
		{entityURI, xidTitle, "repo-a"},
	}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "9780123456789", SourceIDType: "isbn"},
		{SourceID: "premium edition", SourceIDType: "title"},
	}, "repo-a")
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	assert.Contains(t, store.updates[0], `DELETE WHERE { id:deadbeef chubindex:repo "repo-a" }`)
	assert.Contains(t, store.updates[0], "FILTER NOT EXISTS { id:deadbeef chubindex:repo ?any }")
}

func TestDeleteEntityNotFound(t *testing.T) {
	store := &deleteStore{}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "9780123456789", SourceIDType: "isbn"},
	}, "repo-a")
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Empty(t, store.updates)
}

func TestDeleteEntityWrongRepository(t *testing.T) {
	store := &deleteStore{rows: [][]string{
		{entityURI, xidISBN, "repo-a"},
	}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "9780123456789", SourceIDType: "isbn"},
	}, "repo-b")
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Empty(t, store.updates)
}

func TestDeleteEntityPartialIdentifierSet(t *testing.T) {
	// the entity carries a second identifier the request does not name
	store := &deleteStore{rows: [][]string{
		{entityURI, xidISBN, "repo-a"},
		{entityURI, xidTitle, "repo-a"},
	}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "9780123456789", SourceIDType: "isbn"},
	}, "repo-a")
	assert.ErrorIs(t, err, ErrIdentifierConflict)
	assert.Empty(t, store.updates)
}

func TestDeleteEntitySharedIdentifier(t *testing.T) {
	store := &deleteStore{rows: [][]string{
		{entityURI, xidISBN, "repo-a"},
		{"http://openpermissions.org/ns/id/cafebabe", xidISBN, "repo-b"},
	}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "9780123456789", SourceIDType: "isbn"},
	}, "repo-a")
	assert.ErrorIs(t, err, ErrIdentifierConflict)
	assert.Empty(t, store.updates)
}

func TestDeleteEntityInvalidInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("store should not be consulted")
	}))
	defer srv.Close()

	db := newTestDB(t, srv)
	err := db.DeleteEntity(context.Background(), []types.QueryInput{
		{SourceID: "a", SourceIDType: "NOT VALID"},
	}, "repo-a")

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/openpermissions/chubindex/pkg/hubkey"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/metrics"
	"github.com/openpermissions/chubindex/pkg/types"
)

// hubKeyType is the source_id_type under which hub keys are queried.
const hubKeyType = "hub_key"

// xidBase is the URI base for cross-identifier nodes.
const xidBase = "https://digicat.io/ns/xid/"

// idBase is the URI base for canonical entity references ("id:" prefix).
const idBase = "http://openpermissions.org/ns/id/"

// ns holds the namespace table shared by SPARQL queries and Turtle
// documents. Order is fixed so generated prefixes are deterministic.
var ns = []struct {
	prefix string
	uri    string
}{
	{"chubindex", "http://digicat.io/ns/chubindex/1.0/"},
	{"op", "http://digicat.io/ns/op/1.0/"},
	{"xsd", "http://www.w3.org/2001/XMLSchema#"},
	{"id", idBase},
}

var (
	sparqlPrefixes = func() string {
		var b strings.Builder
		for _, n := range ns {
			fmt.Fprintf(&b, "PREFIX %s: <%s>\n", n.prefix, n.uri)
		}
		return b.String()
	}()

	turtlePrefixes = func() string {
		var b strings.Builder
		for _, n := range ns {
			fmt.Fprintf(&b, "@prefix %s: <%s> .\n", n.prefix, n.uri)
		}
		return b.String()
	}()
)

const namespaceProperties = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">
<properties>
  <entry key="com.bigdata.rdf.sail.namespace">%s</entry>
</properties>`

var (
	reEntityID     = regexp.MustCompile(`^[0-9a-f]{1,64}$`)
	reSourceIDType = regexp.MustCompile(`^(` + hubkey.PartIDType + `)$`)
	reSourceID     = regexp.MustCompile(`^(` + hubkey.PartEntityID + `)$`)
)

// DB issues writes and queries against the external triple store over HTTP.
type DB struct {
	dbURL        string
	namespace    string
	namespaceURL string
	http         *http.Client
}

// NewDB creates an adapter for the triple store namespace endpoint composed
// from its parts, e.g. ("http://localhost", 9090, "/bigdata/namespace/", "kb").
func NewDB(baseURL string, port int, path, schema string) *DB {
	dbURL := fmt.Sprintf("%s:%d%s%s", baseURL, port, path, schema)
	return &DB{
		dbURL:        dbURL,
		namespace:    dbURL[strings.LastIndex(dbURL, "/")+1:],
		namespaceURL: dbURL[:strings.LastIndex(dbURL, "/")],
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateNamespace creates the store namespace. An HTTP 409 means the
// namespace already exists and is not an error.
func (db *DB) CreateNamespace(ctx context.Context) error {
	body := fmt.Sprintf(namespaceProperties, db.namespace)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.namespaceURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := db.http.Do(req)
	if err != nil {
		return fmt.Errorf("triple store unreachable at %s: %w", db.namespaceURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("namespace create returned %d", resp.StatusCode)
	}
	return nil
}

// Store posts a document (Turtle, RDF/XML, ...) to the store.
func (db *DB) Store(ctx context.Context, data, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.dbURL, strings.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := db.http.Do(req)
	if err != nil {
		return fmt.Errorf("triple store unreachable at %s: %w", db.dbURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("triple store returned %d on ingest", resp.StatusCode)
	}
	return nil
}

// update posts a SPARQL UPDATE.
func (db *DB) update(ctx context.Context, update string) error {
	form := url.Values{"update": {sparqlPrefixes + update}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.dbURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := db.http.Do(req)
	if err != nil {
		return fmt.Errorf("triple store unreachable at %s: %w", db.dbURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("triple store returned %d on update", resp.StatusCode)
	}
	return nil
}

// AddEntities validates a batch of identifier rows from a repository feed
// and submits the valid ones to the store as Turtle. Invalid rows are
// collected in the summary; a store failure is logged and does not abort
// the call.
func (db *DB) AddEntities(ctx context.Context, entityType string, rows []types.Identifier, repoID string) *types.IngestSummary {
	logger := log.WithComponent("index")
	entityType = quotePlus(entityType)

	summary := &types.IngestSummary{}
	var turtle strings.Builder
	turtle.WriteString(turtlePrefixes)

	for _, row := range rows {
		if row.EntityID == "" || row.SourceID == "" || row.SourceIDType == "" {
			e := fmt.Sprintf("missing field, skipping record %+v", row)
			summary.Errors = append(summary.Errors, e)
			logger.Warn().Msg("error processing new record: " + e)
			continue
		}

		if !reEntityID.MatchString(row.EntityID) {
			e := fmt.Sprintf("skipping record %s - invalid id", row.EntityID)
			summary.Errors = append(summary.Errors, e)
			logger.Warn().Msg("error processing new record: " + e)
			continue
		}

		sourceIDType := quotePlus(row.SourceIDType)
		sourceID := quotePlus(row.SourceID)

		if !reSourceIDType.MatchString(sourceIDType) {
			e := fmt.Sprintf("skipping record %s - invalid id type %q", row.EntityID, sourceIDType)
			summary.Errors = append(summary.Errors, e)
			logger.Warn().Msg("error processing new record: " + e)
			continue
		}

		if !reSourceID.MatchString(sourceID) {
			e := fmt.Sprintf("skipping record %s - invalid id %q", row.EntityID, sourceID)
			summary.Errors = append(summary.Errors, e)
			logger.Warn().Msg("error processing new record: " + e)
			continue
		}

		fmt.Fprintf(&turtle, `
<%[1]s%[2]s/%[3]s>
chubindex:id "%[3]s"^^xsd:string ;
chubindex:id_type "%[2]s"^^xsd:string .

<%[4]s%[5]s> op:alsoIdentifiedBy <%[1]s%[2]s/%[3]s>;
chubindex:repo "%[6]s"^^xsd:string ;
chubindex:type "%[7]s"^^xsd:string .
`, xidBase, sourceIDType, sourceID, idBase, row.EntityID, repoID, entityType)

		summary.Records++
	}

	metrics.IdentifiersIngested.Add(float64(summary.Records))
	metrics.IngestErrors.Add(float64(len(summary.Errors)))
	logger.Info().Int("records", summary.Records).Str("repo_id", repoID).Msg("storing records")

	if err := db.Store(ctx, strings.TrimSpace(turtle.String()), "text/turtle"); err != nil {
		logger.Error().Err(err).Msg("failed to store records")
	}

	return summary
}

// quotePlus percent-encodes s the way identifiers are encoded into xid URIs
// (space becomes '+').
func quotePlus(s string) string {
	return url.QueryEscape(s)
}

// unquotePlus reverses quotePlus, falling back to the input on malformed
// escapes.
func unquotePlus(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return out
}

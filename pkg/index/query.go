package index

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openpermissions/chubindex/pkg/hubkey"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/metrics"
	"github.com/openpermissions/chubindex/pkg/types"
)

// ValidationError carries the query inputs that failed validation so the
// HTTP layer can echo them in a bad-request response.
type ValidationError struct {
	Inputs []types.QueryInput
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query inputs: %+v", e.Inputs)
}

// The store has no bounded-length path quantifier, so the relation search is
// unrolled by hand: one UNION arm per depth level, each arm carrying NOT IN
// filters over the hubs already visited to prevent cycles.

const level1RelSubquery = `
{
    SELECT ?via_hk ?via_id ?to_hk WHERE {
        %s .
        BIND (?entity_uri AS ?via_hk) .
        ?via_hk op:alsoIdentifiedBy ?via_id.
        ?via_id ^op:alsoIdentifiedBy? ?to_hk .
        FILTER (?to_hk != ?via_hk) .
    }
}
`

const levelNRelSubquery = `
%[1]s op:alsoIdentifiedBy %[2]s .
FILTER ( %[2]s != ?origid ) .
%[2]s  ^op:alsoIdentifiedBy %[3]s .
FILTER ( %[3]s NOT IN ( %[4]s ) ) .
`

const outerRelSubquery = `
{ SELECT ?group (CONCAT("[", GROUP_CONCAT(?json;separator=","),"]") AS ?relations ) WHERE {
    BIND ( "constant" as ?group ) .
    { SELECT DISTINCT ?to_hk ?to_repo ?via_id ?via_id_id_value ?via_id_id_type ?via_hk WHERE {
       %s

       OPTIONAL { ?via_id chubindex:id ?via_id_id_value . }
       OPTIONAL { ?via_id chubindex:id_type ?via_id_id_type . }
       OPTIONAL { ?to_hk chubindex:repo ?to_repo . }
    }
}
BIND (CONCAT("{\"to\": {\"entity_id\": \"", STRAFTER(STR(?to_hk),STR(id:)) , "\", \"repository_id\": \"", ?to_repo,
             "\" }, \"via\": {\"source_id\" : \"", ?via_id_id_value, "\", \"source_id_type\": \"", ?via_id_id_type,
             "\", \"entity_id\" : \"", STRAFTER(STR(?via_hk),STR(id:)), "\" } }" ) AS ?json)
}
GROUP BY ?group
}
`

// queryTemplate is the per-input sub-block. The first part aggregates the
// repositories directly holding the entity, the second is the unrolled
// relation search, and the trailing BINDs echo the input in the result row.
const queryTemplate = `
{
    {
        SELECT ?group (CONCAT("[", GROUP_CONCAT(?json; separator=","),"]") AS ?repositories ) {
           BIND ( "constant" as ?group ) .
           %[1]s .
           ?entity_uri chubindex:repo ?repo_id .
           BIND (CONCAT("{\"repository_id\":\"",?repo_id,"\",\"entity_id\":\"",STRAFTER(STR(?entity_uri),STR(id:)),"\"}") AS ?json).
        } GROUP BY ?group
    }

    %[2]s

    BIND ( %[3]s AS ?source_id ) .
    BIND ( "%[4]s" AS ?source_id_type ) .
}
`

// normalizedInput pairs a raw query input with the percent-encoded (or, for
// hub keys, entity-id) form that appears in the generated SPARQL.
type normalizedInput struct {
	raw          types.QueryInput
	sourceID     string
	sourceIDType string
}

// key is the (type, id) pair as it will be echoed back in the result CSV.
func (n normalizedInput) key() string {
	return n.sourceIDType + "\x00" + n.sourceID
}

// normalizeInputs validates and encodes the query inputs. Hub keys are parsed
// down to their entity id; everything else is percent-encoded before being
// embedded in URIs. Invalid inputs are returned wrapped in ValidationError.
func normalizeInputs(ids []types.QueryInput) ([]normalizedInput, error) {
	var (
		normalized []normalizedInput
		invalid    []types.QueryInput
	)

	for _, x := range ids {
		if x.SourceID == "" || x.SourceIDType == "" {
			invalid = append(invalid, x)
			continue
		}

		if x.SourceIDType == hubKeyType {
			sourceID := x.SourceID
			if strings.Contains(sourceID, "/") && !strings.HasPrefix(sourceID, idBase) {
				key, err := hubkey.Parse(sourceID)
				if err != nil {
					invalid = append(invalid, x)
					continue
				}
				sourceID = key.EntityID
			} else {
				sourceID = sourceID[strings.LastIndex(sourceID, "/")+1:]
				// embedded in the query unquoted, so it must be a well
				// formed entity id
				if !reEntityID.MatchString(sourceID) {
					invalid = append(invalid, x)
					continue
				}
			}
			normalized = append(normalized, normalizedInput{
				raw:          x,
				sourceID:     sourceID,
				sourceIDType: hubKeyType,
			})
			continue
		}

		normalized = append(normalized, normalizedInput{
			raw:          x,
			sourceID:     quotePlus(x.SourceID),
			sourceIDType: quotePlus(x.SourceIDType),
		})
	}

	if len(invalid) > 0 {
		return nil, &ValidationError{Inputs: invalid}
	}
	return normalized, nil
}

// formatRelationSubquery builds the relation part of a sub-block, one UNION
// arm per depth level up to maxDepth. Depth 0 binds a constant empty array.
func formatRelationSubquery(initialQuery string, maxDepth int) string {
	if maxDepth <= 0 {
		return `BIND ("[]" AS ?relations) .`
	}

	arms := []string{fmt.Sprintf(level1RelSubquery, initialQuery)}

	for i := 1; i < maxDepth; i++ {
		var expr []string
		expr = append(expr, initialQuery+".")
		expr = append(expr, "BIND (?entity_uri AS ?via_hk0) .")
		for j := 0; j < i; j++ {
			expr = append(expr, fmt.Sprintf(levelNRelSubquery,
				fmt.Sprintf("?via_hk%d", j),
				fmt.Sprintf("?via_id%d", j+1),
				fmt.Sprintf("?via_hk%d", j+1),
				forbiddenHubs(j+1),
			))
		}
		expr = append(expr, fmt.Sprintf("BIND (?via_hk%d as ?via_hk) .", i))
		expr = append(expr, fmt.Sprintf(levelNRelSubquery,
			"?via_hk", "?via_id", "?to_hk", forbiddenHubs(i+1)))

		arms = append(arms, fmt.Sprintf("{ SELECT ?via_hk ?via_id ?to_hk WHERE { \n %s \n } }\n",
			strings.Join(expr, "\n")))
	}

	return fmt.Sprintf(outerRelSubquery, "{ "+strings.Join(arms, " UNION ")+" }")
}

// forbiddenHubs lists the hub variables bound before level n, for the cycle
// filter of the next hop.
func forbiddenHubs(n int) string {
	hubs := make([]string, n)
	for i := range hubs {
		hubs[i] = fmt.Sprintf("?via_hk%d", i)
	}
	return strings.Join(hubs, " , ")
}

// formatSubquery builds the complete sub-block for one normalized input.
func formatSubquery(in normalizedInput, maxDepth int) string {
	var initialQuery, sourceIDBind string
	if in.sourceIDType == hubKeyType {
		initialQuery = fmt.Sprintf("  BIND ( id:%s AS ?entity_uri ) ", in.sourceID)
		sourceIDBind = "id:" + in.sourceID
	} else {
		initialQuery = fmt.Sprintf("  <%s%s/%s> ^op:alsoIdentifiedBy ?entity_uri",
			xidBase, in.sourceIDType, in.sourceID)
		sourceIDBind = `"` + in.sourceID + `"`
	}

	relQuery := formatRelationSubquery(initialQuery, maxDepth)

	return fmt.Sprintf(queryTemplate, initialQuery, relQuery, sourceIDBind, in.sourceIDType)
}

// buildQuery assembles the outer SELECT over all per-input sub-blocks.
func buildQuery(inputs []normalizedInput, maxDepth int) string {
	subqueries := make([]string, len(inputs))
	for i, in := range inputs {
		subqueries[i] = formatSubquery(in, maxDepth)
	}

	return fmt.Sprintf(`
SELECT DISTINCT ?source_id ?source_id_type ?repositories ?relations
WHERE { %s }
ORDER BY ?source_id ?source_id_type
`, strings.Join(subqueries, " UNION "))
}

// runQuery posts a SPARQL SELECT and decodes the CSV response into one map
// per row keyed by the header columns.
func (db *DB) runQuery(ctx context.Context, query string) ([]map[string]string, error) {
	form := url.Values{"query": {sparqlPrefixes + query}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.dbURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/csv")

	resp, err := db.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triple store unreachable at %s: %w", db.dbURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("triple store returned %d on query", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Query looks up the repositories holding each input identifier, optionally
// traversing related identifiers up to relatedDepth hops. Inputs absent from
// the index come back with empty repositories and relations rather than
// being dropped.
func (db *DB) Query(ctx context.Context, ids []types.QueryInput, relatedDepth int) ([]types.QueryResult, error) {
	inputs, err := normalizeInputs(ids)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	query := buildQuery(inputs, relatedDepth)
	log.WithComponent("index").Debug().Msg(query)

	start := time.Now()
	rows, err := db.runQuery(ctx, query)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]map[string]string, len(rows))
	for _, row := range rows {
		sourceID := row["source_id"]
		if row["source_id_type"] == hubKeyType {
			sourceID = sourceID[strings.LastIndex(sourceID, "/")+1:]
		}
		byKey[row["source_id_type"]+"\x00"+sourceID] = row
	}

	results := make([]types.QueryResult, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.key()] {
			continue
		}
		seen[in.key()] = true

		out := types.QueryResult{
			SourceID:     in.raw.SourceID,
			SourceIDType: in.raw.SourceIDType,
			Repositories: []types.RepositoryRef{},
			Relations:    []types.Relation{},
		}
		if in.sourceIDType == hubKeyType {
			out.SourceID = in.sourceID
		}

		row, ok := byKey[in.key()]
		if !ok {
			results = append(results, out)
			continue
		}

		if err := decodeRepositories(row["repositories"], &out.Repositories); err != nil {
			return nil, err
		}
		if err := decodeRelations(row["relations"], &out.Relations); err != nil {
			return nil, err
		}
		results = append(results, out)
	}

	return results, nil
}

func decodeRepositories(raw string, out *[]types.RepositoryRef) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode repositories aggregate: %w", err)
	}
	return nil
}

// decodeRelations decodes the relations JSON aggregate and reverses the
// percent-encoding applied to via identifiers at ingest time.
func decodeRelations(raw string, out *[]types.Relation) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode relations aggregate: %w", err)
	}
	for i := range *out {
		(*out)[i].Via.SourceID = unquotePlus((*out)[i].Via.SourceID)
		(*out)[i].Via.SourceIDType = unquotePlus((*out)[i].Via.SourceIDType)
	}
	return nil
}

package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/types"
)

var (
	// ErrEntityNotFound means no indexed entity carries the requested
	// identifiers in the requested repository.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrIdentifierConflict means the requested identifiers do not pin down
	// exactly one entity, either because they are shared with another entity
	// or because they are only a subset of the entity's identifiers.
	ErrIdentifierConflict = errors.New("identifiers do not match exactly one entity")
)

// DeleteEntity removes an entity's triples from a repository. The given
// identifier pairs must be exactly the set of identifiers indexed for the
// entity, and no other entity may share any of them. When the repository is
// the entity's last, the identifier triples are removed as well.
func (db *DB) DeleteEntity(ctx context.Context, pairs []types.QueryInput, repoID string) error {
	xids, err := deleteXIDs(pairs)
	if err != nil {
		return err
	}

	rows, err := db.runQuery(ctx, fmt.Sprintf(`
SELECT ?entity ?xid ?repo WHERE {
    ?entity op:alsoIdentifiedBy ?match .
    FILTER ( ?match IN ( %s ) ) .
    ?entity op:alsoIdentifiedBy ?xid .
    OPTIONAL { ?entity chubindex:repo ?repo . }
}
`, strings.Join(xids, " , ")))
	if err != nil {
		return err
	}

	type entityInfo struct {
		xids  map[string]bool
		repos map[string]bool
	}
	entities := map[string]*entityInfo{}
	for _, row := range rows {
		info, ok := entities[row["entity"]]
		if !ok {
			info = &entityInfo{xids: map[string]bool{}, repos: map[string]bool{}}
			entities[row["entity"]] = info
		}
		info.xids[row["xid"]] = true
		if row["repo"] != "" {
			info.repos[row["repo"]] = true
		}
	}

	if len(entities) == 0 {
		return ErrEntityNotFound
	}
	if len(entities) > 1 {
		return ErrIdentifierConflict
	}

	var entityURI string
	var info *entityInfo
	for uri, i := range entities {
		entityURI, info = uri, i
	}

	if len(info.xids) != len(xids) {
		return ErrIdentifierConflict
	}
	for _, xid := range xids {
		if !info.xids[strings.Trim(xid, "<>")] {
			return ErrIdentifierConflict
		}
	}
	if !info.repos[repoID] {
		return ErrEntityNotFound
	}

	entityID := entityURI[strings.LastIndex(entityURI, "/")+1:]
	if !reEntityID.MatchString(entityID) {
		return fmt.Errorf("refusing to delete malformed entity uri %q", entityURI)
	}

	update := fmt.Sprintf(`
DELETE WHERE { id:%[1]s chubindex:repo "%[2]s" } ;
DELETE {
    id:%[1]s op:alsoIdentifiedBy ?xid .
    id:%[1]s chubindex:type ?type .
    ?xid chubindex:id ?value .
    ?xid chubindex:id_type ?value_type .
}
WHERE {
    id:%[1]s op:alsoIdentifiedBy ?xid .
    OPTIONAL { id:%[1]s chubindex:type ?type . }
    OPTIONAL { ?xid chubindex:id ?value . }
    OPTIONAL { ?xid chubindex:id_type ?value_type . }
    FILTER NOT EXISTS { id:%[1]s chubindex:repo ?any } .
}
`, entityID, repoID)

	if err := db.update(ctx, update); err != nil {
		return err
	}

	log.WithRepo(repoID).Info().
		Str("entity_id", entityID).
		Msg("deleted entity from repository")
	return nil
}

// deleteXIDs validates the identifier pairs and renders them as bracketed
// xid URIs for embedding in queries.
func deleteXIDs(pairs []types.QueryInput) ([]string, error) {
	var invalid []types.QueryInput
	xids := make([]string, 0, len(pairs))
	seen := map[string]bool{}

	for _, p := range pairs {
		if p.SourceID == "" || p.SourceIDType == "" {
			invalid = append(invalid, p)
			continue
		}
		idType := quotePlus(p.SourceIDType)
		id := quotePlus(p.SourceID)
		if !reSourceIDType.MatchString(idType) || !reSourceID.MatchString(id) {
			invalid = append(invalid, p)
			continue
		}
		xid := fmt.Sprintf("<%s%s/%s>", xidBase, idType, id)
		if seen[xid] {
			continue
		}
		seen[xid] = true
		xids = append(xids, xid)
	}

	if len(invalid) > 0 {
		return nil, &ValidationError{Inputs: invalid}
	}
	if len(xids) == 0 {
		return nil, &ValidationError{}
	}
	return xids, nil
}

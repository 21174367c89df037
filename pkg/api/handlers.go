package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/openpermissions/chubindex/pkg/index"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/types"
)

// relatedDepth reads and clamps the related_depth query argument. Anything
// unparseable counts as zero.
func (s *Server) relatedDepth(r *http.Request) int {
	depth, err := strconv.Atoi(r.URL.Query().Get("related_depth"))
	if err != nil || depth < 0 {
		return 0
	}
	if depth > s.cfg.MaxRelatedDepth {
		return s.cfg.MaxRelatedDepth
	}
	return depth
}

// repositoriesHandler answers single-identifier lookups. The entity type is
// accepted for URL symmetry but not used to restrict the query; the index
// holds one entity type per identifier.
func (s *Server) repositoriesHandler(w http.ResponseWriter, r *http.Request) {
	input := types.QueryInput{
		SourceID:     r.PathValue("source_id"),
		SourceIDType: r.PathValue("source_id_type"),
	}

	results, err := s.db.Query(r.Context(), []types.QueryInput{input}, s.relatedDepth(r))

	var verr *index.ValidationError
	if errors.As(err, &verr) {
		// the URL names an id that cannot exist
		notFound(w, fmt.Sprintf("not found (%q, %q)", input.SourceIDType, input.SourceID))
		return
	}
	if err != nil {
		s.queryError(w, err)
		return
	}
	if len(results) == 0 {
		notFound(w, "not found")
		return
	}

	data := results[0]
	if len(data.Repositories) == 0 && len(data.Relations) == 0 {
		notFound(w, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": http.StatusOK,
		"data":   data,
	})
}

// bulkRepositoriesHandler answers lookups for a JSON array of identifiers.
func (s *Server) bulkRepositoriesHandler(w http.ResponseWriter, r *http.Request) {
	var ids []types.QueryInput
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		writeError(w, http.StatusBadRequest, []map[string]string{
			{"message": "request body must be a JSON array of {source_id, source_id_type}"},
		})
		return
	}

	results, err := s.db.Query(r.Context(), ids, s.relatedDepth(r))

	var verr *index.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Inputs)
		return
	}
	if err != nil {
		s.queryError(w, err)
		return
	}
	if results == nil {
		results = []types.QueryResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": http.StatusOK,
		"data":   results,
	})
}

// deleteHandler removes an entity's triples from a repository. The id-type
// and id path components may be comma lists of equal length naming the
// entity's complete identifier set.
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	idTypes := strings.Split(r.PathValue("source_id_type"), ",")
	idValues := strings.Split(r.PathValue("source_id"), ",")
	repoID := r.PathValue("repository_id")

	if len(idTypes) != len(idValues) {
		writeError(w, http.StatusBadRequest, []map[string]string{
			{"message": "source_id_type and source_id lists must have equal length"},
		})
		return
	}

	pairs := make([]types.QueryInput, len(idTypes))
	for i := range idTypes {
		pairs[i] = types.QueryInput{SourceID: idValues[i], SourceIDType: idTypes[i]}
	}

	err := s.db.DeleteEntity(r.Context(), pairs, repoID)

	var verr *index.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Inputs)
	case errors.Is(err, index.ErrEntityNotFound):
		notFound(w, "not found")
	case errors.Is(err, index.ErrIdentifierConflict):
		writeError(w, http.StatusConflict, []map[string]string{
			{"message": err.Error()},
		})
	case err != nil:
		s.queryError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK})
	}
}

// notificationsHandler accepts a repository's hint that new data is
// available. The response is 200 whether or not the queue had room; the
// regular poll schedule covers dropped notifications.
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeError(w, http.StatusBadRequest, []map[string]string{
			{"message": "a repository id is required"},
		})
		return
	}

	s.queue.TryPut(body.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK})
}

func (s *Server) queryError(w http.ResponseWriter, err error) {
	log.WithComponent("api").Error().Err(err).Msg("index query failed")
	writeError(w, http.StatusInternalServerError, []map[string]string{
		{"message": "internal server error"},
	})
}

package types

import "time"

// RepositoryRecord is the durable per-repository crawl state.
//
// Location is the base URL of the repository service, empty if the accounts
// service has not reported one. Next is the lower bound of the identifier
// query window for the next poll; Last is the time of the last successful
// poll. Both are nil until the first successful poll.
type RepositoryRecord struct {
	ID                string     `json:"id"`
	Location          string     `json:"location,omitempty"`
	Next              *time.Time `json:"next,omitempty"`
	Last              *time.Time `json:"last,omitempty"`
	Errors            int        `json:"errors"`
	SuccessfulQueries int        `json:"successful_queries"`
}

// Identifier is one row of a repository identifier feed: a repository-local
// identifier cross-referenced to an entity.
type Identifier struct {
	EntityID     string `json:"entity_id"`
	SourceID     string `json:"source_id"`
	SourceIDType string `json:"source_id_type"`
}

// QueryInput is one lookup in a bulk repositories query.
type QueryInput struct {
	SourceID     string `json:"source_id"`
	SourceIDType string `json:"source_id_type"`
}

// RepositoryRef names a repository holding data about an entity.
type RepositoryRef struct {
	RepositoryID string `json:"repository_id"`
	EntityID     string `json:"entity_id"`
}

// RelationEnd is the entity a relation points to.
type RelationEnd struct {
	EntityID     string `json:"entity_id"`
	RepositoryID string `json:"repository_id"`
}

// RelationVia is the identifier through which a relation was discovered.
type RelationVia struct {
	SourceID     string `json:"source_id"`
	SourceIDType string `json:"source_id_type"`
	EntityID     string `json:"entity_id"`
}

// Relation is one hop discovered during related-entity expansion.
type Relation struct {
	To  RelationEnd `json:"to"`
	Via RelationVia `json:"via"`
}

// QueryResult is the answer for a single QueryInput. Inputs not present in
// the index are returned with empty Repositories and Relations.
type QueryResult struct {
	SourceID     string          `json:"source_id"`
	SourceIDType string          `json:"source_id_type"`
	Repositories []RepositoryRef `json:"repositories"`
	Relations    []Relation      `json:"relations"`
}

// IngestSummary reports the outcome of submitting a batch of identifiers to
// the index store. Records is the number of rows submitted; Errors lists the
// rows that failed validation and were skipped.
type IngestSummary struct {
	Records int      `json:"records"`
	Errors  []string `json:"errors"`
}

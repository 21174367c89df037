// Package repofeed is the HTTP client for repository identifier feeds: the
// paginated per-repository endpoint publishing identifier-to-entity
// mappings added since a given time.
package repofeed

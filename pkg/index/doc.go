// Package index talks to the external triple store over its HTTP endpoint.
// It renders identifier batches into Turtle for ingest, generates the
// depth-bounded SPARQL used to answer identifier queries, and decodes the
// store's CSV query responses.
package index

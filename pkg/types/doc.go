// Package types contains the shared data structures for the index service:
// the durable repository crawl state, identifier feed rows, and the
// query/result shapes exchanged with the triple store and the HTTP API.
package types

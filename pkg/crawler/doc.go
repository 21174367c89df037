// Package crawler polls repository services for new identifiers and feeds
// them into the index. It owns the accounts poll loop, the fetch loop and
// the backoff policy for repositories that fail to respond.
package crawler

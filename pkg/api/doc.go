// Package api is the HTTP front-end of the index service: identifier
// queries against the triple store, repository notifications feeding the
// crawl scheduler, and service introspection (banner, health, metrics).
package api

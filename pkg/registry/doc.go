// Package registry owns the durable per-repository crawl state: location,
// poll cursor, last-success time and consecutive error count. Records are
// created when a repository is first observed in the accounts service and
// are never deleted.
package registry

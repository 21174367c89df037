// Package accounts is the HTTP client for the accounts directory service,
// which lists the repository services this index should crawl.
package accounts

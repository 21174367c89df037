// Package log provides structured logging for the index service.
//
// It wraps zerolog with a global logger that is configured once at startup
// and child-logger helpers that attach the fields used throughout the
// codebase (component, repo_id, request_id).
package log

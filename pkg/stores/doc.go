// Package stores provides the SQLite run index: a queryable projection of
// runs, job attempts and audit entries. The JSONL event log remains the
// source of truth for artifacts; the index only answers "what ran when, and
// how did it go" without replaying the log.
package stores

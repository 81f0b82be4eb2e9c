// Package storage persists subscriptions, allowlist entries and audit events.
//
// Two drivers implement the same Store interface: sqlite (durable, default)
// and memory (tests, ephemeral runs). Timestamps are stored as unix
// milliseconds so range comparisons stay exact.
package storage

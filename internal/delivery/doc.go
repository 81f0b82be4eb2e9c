// Package delivery is the outbound pipeline: a bounded queue drained by a
// worker pool, rate-limited sends with exponential-backoff retry, terminal
// bounce handling that deactivates unreachable subscriptions, and the
// broadcast/notify fan-out on top.
//
// Guarantees are at-least-once, fire-and-forget: callers of Broadcast/Notify
// never see delivery outcomes; the audit log does.
package delivery

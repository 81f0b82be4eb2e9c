// Package logx provides the structured logging facade used across botcast.
//
// It wraps zerolog behind a small Logger value type so components can hold a
// logger without caring whether sinks or levels change at runtime: loggers
// created from a Service stay live across Service.Apply calls.
package logx

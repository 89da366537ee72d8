// Package klog is structured boot/diagnostic logging. The corpus has
// no wired structured-logging third-party library (elliotnunn-
// BeHierarchic uses log/slog directly), so this is the one ambient
// concern built on the standard library rather than an example's own
// dependency; see DESIGN.md. The call style (an event name followed by
// key/value pairs) follows BeHierarchic's prefetch.go/open.go usage.
package klog

import "log/slog"

// Hart logs an event attributed to a simulated hart.
func Hart(id int, event string, kv ...any) {
	slog.Info(event, append([]any{"hart", id}, kv...)...)
}

// Boot logs a boot-sequence event.
func Boot(event string, kv ...any) {
	slog.Info(event, kv...)
}

// Warn logs a recoverable anomaly.
func Warn(event string, kv ...any) {
	slog.Warn(event, kv...)
}

// Fatal logs an unrecoverable boot error. Callers still decide whether
// to panic or os.Exit; klog never terminates the process itself.
func Fatal(event string, kv ...any) {
	slog.Error(event, kv...)
}

// ABOUTME: Package notify reports user-facing errors and successes
// ABOUTME: Provides a colored console notifier and an in-memory recorder

// Package notify delivers short user-facing notifications.
package notify

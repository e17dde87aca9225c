// Package unread tracks per-conversation, per-role unread counts.
//
// The Tracker applies optimistic local increments as messages arrive
// and reconciles against server-computed counts, which always win.
// MarkRead is debounced with an in-flight marker so rapid read events
// produce one network call; a failed acknowledgement leaves the local
// count untouched and is retried only on the next explicit read action.
//
// The BadgePoller fetches a customer's unread count on an interval so
// a badge can show while the chat surface itself is closed.
package unread

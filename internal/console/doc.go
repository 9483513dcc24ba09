// ABOUTME: Package console documentation
// ABOUTME: Queue and Chat views plus terminal rendering helpers

// Package console composes the directory, message store, reconciler and
// action engine into the two views an agent works in: the queue of waiting
// sessions and the list of their own active chats.
package console

// Package store provides the durable key-value store shared by credential
// and limiter state.
//
// All values are strings; structured values are JSON-encoded by callers.
// Every backend reports changes made by other instances through Watch, so a
// logout in one process is observed by its siblings:
//
//   - Memory: in-process; Sibling returns a second view onto the same data.
//   - File: a JSON document on disk, watched with fsnotify.
//   - Postgres: a key-value table with LISTEN/NOTIFY change events.
//   - Redis: plain keys with a pub/sub change channel.
package store

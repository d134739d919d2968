// Package auth manages the credential lifecycle for a chat client.
//
// Manager holds no credentials in memory: the durable store is the source of
// truth, so sibling instances sharing a store observe each other's logins and
// logouts. Concurrent callers needing a refresh share one in-flight refresh.
package auth

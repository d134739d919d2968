// Package database provides connection pool management for the PostgreSQL
// key-value store backend.
//
// The pool serves two roles: ordinary reads and writes against the key-value
// table, and one long-lived connection held for LISTEN on the change channel.
package database

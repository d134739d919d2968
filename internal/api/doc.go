// Package api provides the room REST client.
//
// Endpoints, relative to the configured base URL:
//   - POST /rooms                     create a room
//   - GET  /rooms                     list rooms
//   - GET  /rooms/{id}                get a room
//   - GET  /rooms/{id}/participants   list participants
//   - POST /rooms/{id}/join           join a room
//   - POST /rooms/{id}/leave          leave a room
//
// Every request carries the bearer token from the credential manager.
package api

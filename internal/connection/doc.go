// Package connection implements the real-time chat session.
//
// The Session:
//   - Dials the chat WebSocket with an access token from the credential manager
//   - Gates every connection attempt on authentication and a backoff limiter
//   - Sends application-level heartbeat pings and closes stale sockets
//   - Reconnects after unexpected closes until gated off
//   - Throttles outbound messages with a token bucket
//   - Fans decoded frames, status changes and errors out to subscribers
package connection

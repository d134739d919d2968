// Package ratelimit implements the two throttling policies used by the client:
//
//   - TokenBucket gates outbound chat frames (default 60 capacity, 1 token/s).
//   - Backoff gates connection attempts with a fixed attempt window
//     (default 5 per 60s) and exponential spacing (1s doubling to 32s, jittered).
//
// Both limiters are safe for concurrent use and can persist their state to a
// StateStore so that limits survive restarts and are shared by sibling
// processes reading the same store.
package ratelimit

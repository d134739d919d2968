// Package events implements subscriber registries for asynchronous event
// fan-out.
//
// A Registry holds callbacks keyed by subscription ID. Subscribe returns an
// unsubscribe func. Publish never blocks the publisher: events are appended
// to an unbounded Queue and a single dispatch goroutine delivers them to the
// current subscribers in publish order.
package events

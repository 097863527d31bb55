// Package asyncq sends to and receives from named persistent queues without blocking the caller. Every Service operation runs on its own goroutine and returns a Pending result.
//
// A receive can be cancelled through its context while it is waiting for a message. The queue handle it opened is released before the cancellation is reported, and a message that is already available is always delivered rather than lost to a concurrent cancellation.
//
// Queues are stored by a Transport. BoltTransport keeps them in a BoltDB file and is useful when the producers and consumers live in the same process; package redisq keeps them in Redis.
package asyncq

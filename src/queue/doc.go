// Package queue implements the receive pipeline: downloaded messages wait in
// one queue per origin site until they can be applied in order.
//
// A queued message is ready when its predecessor in its chain has been
// processed, that is when its prev attribute equals the receiving site's
// cursor for the message's origin and visibility. A queue holding messages
// none of which is ready is stalled, typically because a gap in the sequence
// blocks forward progress. A queue whose message failed to apply is stalled
// until Retry is called.
//
// Queues are serviced in ascending origin id order.
package queue

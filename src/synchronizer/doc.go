// Package synchronizer drives a site towards agreement with the rest of the
// federation.
//
// A call to Synchronize runs successive rounds. In each round the
// synchronizer visits every known peer in ascending site id order, pulls
// every message the peer can give and dispatches them into the local receive
// pipeline, then pushes the messages the local site originated during the
// round to every reachable peer. The run ends when a round leaves the
// NetworkState unchanged: no site's sequence numbers or base URL moved and no
// receive queue stalled or unstalled.
//
// Failing to reach a peer is never fatal: the peer is flagged offline and
// retried on the next round. Only errors matching net.ErrPeerUnreachable count
// as such. Failing to read the site directory, a local fault while building
// or encoding a request, or a malformed batch, aborts the run.
//
// Synchronize is not meant to be called concurrently; calls are serialized.
package synchronizer

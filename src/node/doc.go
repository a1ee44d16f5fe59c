// Package node implements the reactive component of a site.
//
// A Node answers the RPCs other sites send it and, optionally, synchronizes
// the local site with the federation at a fixed interval.
//
// # Pull and Push
//
// Sites exchange messages over the transport defined in the net package with
// two RPC commands. A PullRequest carries, for every origin the requester
// wants messages from, the cursor it has reached; the node replays the
// messages of its log the requester has not processed yet, lowest origins
// first, up to the requested limit, and reports how many more it holds. A
// PushRequest delivers messages without them being requested; the node queues
// them in its receive pipeline and dispatches whatever became ready.
//
// The Exchanger is the client side of the same protocol. It gives the
// synchronizer its view of a peer: a pull computes the Known map from the
// local registry, and every failure to reach the peer is returned as a
// net.PeerError.
package node

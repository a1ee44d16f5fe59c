// Package net implements the transports sites use to exchange Inter-Site
// Messages.
//
// A Transport carries two RPCs. A PullRequest asks a peer for the messages
// it holds beyond the cursors the requester reports, one map per visibility
// class; the PullResponse returns at most Limit of them together with, per
// origin, the number of messages that did not fit. A PushRequest delivers messages the
// requester originated.
//
// There are two implementations:
//
//   - Inmem: in-memory transport used for testing whole networks of sites in
//     a single process
//   - TCP: communicating over plain TCP. Requests are framed by a byte that
//     indicates the message type followed by the msgpack encoded request.
//
// A site's base URL is either host:port or tcp://host:port.
package net

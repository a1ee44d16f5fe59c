package net

import "github.com/mosaicnetworks/sitesync/src/site"

// PullRequest is used to retrieve unknown messages from another site. For
// every origin the requester wants messages from, KnownPublic and
// KnownPrivate hold the cursor it has reached in each visibility class.
// Limit is the max number of messages to include in the response; 0 only
// asks for the availability counts.
type PullRequest struct {
	FromID       int
	KnownPublic  map[int]int64
	KnownPrivate map[int]int64
	Limit        int
}

// NewPullRequest flattens the cursors of known into the two wire maps.
func NewPullRequest(fromID int, known map[int]site.Cursor, limit int) *PullRequest {
	r := &PullRequest{
		FromID:       fromID,
		KnownPublic:  make(map[int]int64, len(known)),
		KnownPrivate: make(map[int]int64, len(known)),
		Limit:        limit,
	}
	for o, c := range known {
		r.KnownPublic[o] = c.Get(site.Public)
		r.KnownPrivate[o] = c.Get(site.Private)
	}
	return r
}

// Known rebuilds the cursor of every origin of the request. A class missing
// for an origin reads as site.InvalidSeqNum.
func (r *PullRequest) Known() map[int]site.Cursor {
	known := make(map[int]site.Cursor, len(r.KnownPublic))
	cursor := func(o int) site.Cursor {
		c, ok := known[o]
		if !ok {
			c = site.Cursor{Public: site.InvalidSeqNum, Private: site.InvalidSeqNum}
		}
		return c
	}
	for o, seq := range r.KnownPublic {
		c := cursor(o)
		c.Public = seq
		known[o] = c
	}
	for o, seq := range r.KnownPrivate {
		c := cursor(o)
		c.Private = seq
		known[o] = c
	}
	return known
}

// PullResponse returns the requested messages, oldest first within each
// origin. Available counts, per origin, the messages the responder holds
// beyond this batch.
type PullResponse struct {
	FromID    int
	Messages  []string
	Available map[int]int64
}

// PushRequest is used to deliver messages without them being requested.
type PushRequest struct {
	FromID   int
	Messages []string
}

// PushResponse reports how many messages the receiver processed after
// queueing the push.
type PushResponse struct {
	FromID   int
	Accepted int
}

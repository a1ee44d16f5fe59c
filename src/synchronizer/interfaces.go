package synchronizer

import (
	"github.com/mosaicnetworks/sitesync/src/site"
)

// Directory is the site registry.
type Directory interface {
	AllSites() ([]site.Site, error)
	LocalSiteID() int
	Site(id int) (site.Site, error)
}

// PullResult is the answer to a pull. Available counts, per origin, the
// messages the peer still holds beyond this batch.
type PullResult struct {
	Messages  []string
	Available map[int]int64
}

// Exchange performs pulls from, and pushes to, a peer. Errors matching
// net.ErrPeerUnreachable mean the peer could not be reached; any other error
// is a local fault.
type Exchange interface {
	Pull(target site.Site, wanted []int, max int) (PullResult, error)
	Push(target site.Site, msgs []string) error
}

// Pipeline is the local receive pipeline.
type Pipeline interface {
	// Enqueue queues a batch received from source. hints, if not nil,
	// replaces the availability hint of source.
	Enqueue(source int, msgs []string, hints map[int]int64) error
	// DispatchOne applies one queued message; false means none is ready.
	DispatchOne() (bool, error)
	StalledOriginIDs() []int
	PendingCount() int64
	AvailabilityHint(siteID int) int64
}

// Outbox returns the locally originated messages a site may receive.
type Outbox interface {
	MessagesFor(target int, after int64, limit int) ([]string, error)
}

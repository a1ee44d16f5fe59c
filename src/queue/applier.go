package queue

import (
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
)

// Advancer moves an origin's cursor forward.
type Advancer interface {
	Advance(origin int, seq int64, vis site.Visibility) (bool, error)
}

// LogApplier returns the Applier that appends messages to the local message
// log, making them available to other sites, and advances their origin's
// cursor.
func LogApplier(s store.Store, a Advancer) Applier {
	return func(m ism.Message) error {
		if err := s.AppendMessage(m); err != nil {
			return err
		}
		_, err := a.Advance(m.Origin, m.Seq, m.Visibility)
		return err
	}
}

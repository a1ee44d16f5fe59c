package store

import (
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/site"
)

// NoLimit is the limit that returns every matching message.
const NoLimit = -1

// Store is an interface for backend stores.
type Store interface {
	// GetSite returns a site record by id.
	GetSite(id int) (site.Site, error)
	// SetSite inserts or replaces a site record.
	SetSite(s site.Site) error
	// Sites returns every site record in ascending id order.
	Sites() ([]site.Site, error)
	// AppendMessage adds a message to its origin's log. A message already
	// present is left untouched.
	AppendMessage(m ism.Message) error
	// GetMessage returns a message by origin and sequence number.
	GetMessage(origin int, seq int64) (ism.Message, error)
	// MessagesFrom returns the messages of origin with a sequence number
	// greater than after, in ascending order, at most limit of them unless
	// limit is NoLimit.
	MessagesFrom(origin int, after int64, limit int) ([]ism.Message, error)
	// Close releases the resources held by the store.
	Close() error
	// StorePath returns the location of the database, if any.
	StorePath() string
}

// Package registry maintains the local site directory: one record per site
// of the federation, carrying the replication cursor this site has reached
// for it.
package registry

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
	"github.com/sirupsen/logrus"
)

// Registry is the site directory backed by a Store. Cursors only ever move
// forward.
type Registry struct {
	sync.Mutex
	store       store.Store
	localSiteID int
	logger      *logrus.Entry
}

// New ...
func New(s store.Store, localSiteID int, logger *logrus.Entry) *Registry {
	return &Registry{
		store:       s,
		localSiteID: localSiteID,
		logger:      logger.WithField("prefix", "registry"),
	}
}

// LocalSiteID ...
func (r *Registry) LocalSiteID() int {
	return r.localSiteID
}

// AllSites returns a snapshot of every site record in ascending id order.
func (r *Registry) AllSites() ([]site.Site, error) {
	r.Lock()
	defer r.Unlock()
	return r.store.Sites()
}

// Site returns a site record, or an UnknownSite error.
func (r *Registry) Site(id int) (site.Site, error) {
	r.Lock()
	defer r.Unlock()
	return r.site(id)
}

// Local returns the record of the local site.
func (r *Registry) Local() (site.Site, error) {
	return r.Site(r.localSiteID)
}

// Upsert inserts a site or updates its descriptive fields (name, base URL,
// active flag). Cursors of an existing record never move backwards.
func (r *Registry) Upsert(s site.Site) error {
	r.Lock()
	defer r.Unlock()

	prev, err := r.site(s.ID)
	switch {
	case err == nil:
		if prev.PublicSeqNum > s.PublicSeqNum {
			s.PublicSeqNum = prev.PublicSeqNum
		}
		if prev.PrivateSeqNum > s.PrivateSeqNum {
			s.PrivateSeqNum = prev.PrivateSeqNum
		}
	case !cm.IsStore(err, cm.UnknownSite):
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"site_id":  s.ID,
		"base_url": s.BaseURL,
		"active":   s.IsActive,
	}).Debug("Upsert site")

	return r.store.SetSite(s)
}

// Advance records that the message seq of the given visibility from origin
// has been processed. It returns false if the cursor was already at or past
// seq.
func (r *Registry) Advance(origin int, seq int64, vis site.Visibility) (bool, error) {
	r.Lock()
	defer r.Unlock()

	s, err := r.site(origin)
	if err != nil {
		return false, err
	}

	switch vis {
	case site.Private:
		if seq <= s.PrivateSeqNum {
			return false, nil
		}
		s.PrivateSeqNum = seq
	default:
		if seq <= s.PublicSeqNum {
			return false, nil
		}
		s.PublicSeqNum = seq
	}

	return true, r.store.SetSite(s)
}

// NextLocal returns the sequence number the next message originated by the
// local site will carry.
func (r *Registry) NextLocal() (int64, error) {
	s, err := r.Local()
	if err != nil {
		return site.InvalidSeqNum, err
	}
	return s.MaxSeqNum() + 1, nil
}

// LoadJSON seeds the registry from the sites.json file in dir. A missing
// file is not an error.
func (r *Registry) LoadJSON(dir string) (int, error) {
	js := site.NewJSONSites(dir)
	sites, err := js.Sites()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%s: %w", js.Path(), err)
	}

	for _, s := range sites {
		if err := r.Upsert(s); err != nil {
			return 0, err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"file":  js.Path(),
		"sites": len(sites),
	}).Info("Loaded sites")

	return len(sites), nil
}

// SaveJSON writes every known site, cursors included, to the sites.json
// file in dir.
func (r *Registry) SaveJSON(dir string) (int, error) {
	sites, err := r.AllSites()
	if err != nil {
		return 0, err
	}

	js := site.NewJSONSites(dir)
	if err := js.SetSites(sites); err != nil {
		return 0, fmt.Errorf("%s: %w", js.Path(), err)
	}

	return len(sites), nil
}

func (r *Registry) site(id int) (site.Site, error) {
	s, err := r.store.GetSite(id)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return site.Site{}, cm.NewStoreErr("Registry", cm.UnknownSite, strconv.Itoa(id))
		}
		return site.Site{}, err
	}
	return s, nil
}

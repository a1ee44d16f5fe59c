package netstate

import (
	"sort"
	"strconv"

	"github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/site"
)

// SiteLister is the part of the site directory a NetworkState reads.
type SiteLister interface {
	AllSites() ([]site.Site, error)
}

// StallReporter reports the origin sites whose receive queue is stalled.
type StallReporter interface {
	StalledOriginIDs() []int
}

// Filter selects which sites Sites returns.
type Filter uint8

const (
	// ExcludeLocal drops the local site.
	ExcludeLocal Filter = 1 << iota
	// ExcludeNoURL drops sites with no known base URL.
	ExcludeNoURL
	// ExcludeOffline drops sites flagged offline.
	ExcludeOffline
	// ExcludeDeactivated drops inactive sites.
	ExcludeDeactivated

	// AllSites applies no filter.
	AllSites Filter = 0
	// PeerFilter selects the sites a round interacts with. Offline sites are
	// kept so that they are retried every round.
	PeerFilter = ExcludeLocal | ExcludeNoURL | ExcludeDeactivated
	// PushFilter selects the sites local output is pushed to.
	PushFilter = PeerFilter | ExcludeOffline
)

// NetworkState ...
type NetworkState struct {
	localSiteID int
	directory   SiteLister
	stalls      StallReporter

	sites   map[int]site.Site
	offline map[int]struct{}
	stalled map[int]struct{}
}

// New returns an empty NetworkState. Call Refresh to populate it.
func New(localSiteID int, directory SiteLister, stalls StallReporter) *NetworkState {
	return &NetworkState{
		localSiteID: localSiteID,
		directory:   directory,
		stalls:      stalls,
		sites:       make(map[int]site.Site),
		offline:     make(map[int]struct{}),
		stalled:     make(map[int]struct{}),
	}
}

// Refresh re-reads the site directory and the stalled queues. An offline
// site whose base URL changed is no longer considered offline: its address
// was edited since it was last observed. On error the state is unchanged.
func (ns *NetworkState) Refresh() error {
	all, err := ns.directory.AllSites()
	if err != nil {
		return err
	}

	sites := make(map[int]site.Site, len(all))
	for _, s := range all {
		sites[s.ID] = s
	}

	for id := range ns.offline {
		prev, known := ns.sites[id]
		next, ok := sites[id]
		if !ok {
			delete(ns.offline, id)
			continue
		}
		if next.HasBaseURL() && (!known || next.BaseURL != prev.BaseURL) {
			delete(ns.offline, id)
		}
	}

	ns.sites = sites

	stalled := make(map[int]struct{})
	if ns.stalls != nil {
		for _, id := range ns.stalls.StalledOriginIDs() {
			stalled[id] = struct{}{}
		}
	}
	ns.stalled = stalled

	return nil
}

// FlagOffline records that the site could not be reached.
func (ns *NetworkState) FlagOffline(id int) error {
	if _, ok := ns.sites[id]; !ok {
		return unknownSite(id)
	}
	ns.offline[id] = struct{}{}
	return nil
}

// IsOffline ...
func (ns *NetworkState) IsOffline(id int) (bool, error) {
	if _, ok := ns.sites[id]; !ok {
		return false, unknownSite(id)
	}
	_, off := ns.offline[id]
	return off, nil
}

// MaxSeqNum returns the latest sequence number known for the site.
func (ns *NetworkState) MaxSeqNum(id int) (int64, error) {
	s, ok := ns.sites[id]
	if !ok {
		return site.InvalidSeqNum, unknownSite(id)
	}
	return s.MaxSeqNum(), nil
}

// Find ...
func (ns *NetworkState) Find(id int) (site.Site, error) {
	s, ok := ns.sites[id]
	if !ok {
		return site.Site{}, unknownSite(id)
	}
	return s, nil
}

// Sites returns the sites passing filter in ascending id order.
func (ns *NetworkState) Sites(filter Filter) []site.Site {
	res := make([]site.Site, 0, len(ns.sites))
	for _, id := range ns.ids() {
		s := ns.sites[id]
		if filter&ExcludeLocal != 0 && id == ns.localSiteID {
			continue
		}
		if filter&ExcludeNoURL != 0 && !s.HasBaseURL() {
			continue
		}
		if filter&ExcludeOffline != 0 {
			if _, off := ns.offline[id]; off {
				continue
			}
		}
		if filter&ExcludeDeactivated != 0 && !s.IsActive {
			continue
		}
		res = append(res, s)
	}
	return res
}

// Len ...
func (ns *NetworkState) Len() int {
	return len(ns.sites)
}

// LocalSiteID ...
func (ns *NetworkState) LocalSiteID() int {
	return ns.localSiteID
}

// IsStalled ...
func (ns *NetworkState) IsStalled(id int) bool {
	_, ok := ns.stalled[id]
	return ok
}

// OfflineIDs returns the offline sites in ascending order.
func (ns *NetworkState) OfflineIDs() []int {
	return sortedKeys(ns.offline)
}

// StalledIDs returns the stalled origin sites in ascending order.
func (ns *NetworkState) StalledIDs() []int {
	return sortedKeys(ns.stalled)
}

// Clone returns a deep copy. The copy shares the directory and stall
// reporter but none of the maps.
func (ns *NetworkState) Clone() *NetworkState {
	c := New(ns.localSiteID, ns.directory, ns.stalls)
	for id, s := range ns.sites {
		c.sites[id] = s
	}
	for id := range ns.offline {
		c.offline[id] = struct{}{}
	}
	for id := range ns.stalled {
		c.stalled[id] = struct{}{}
	}
	return c
}

// IsDifferentFrom returns false only if both states hold the same sites with
// equal sequence numbers and base URLs, and the same stalled set.
func (ns *NetworkState) IsDifferentFrom(other *NetworkState) bool {
	if other == nil || len(ns.sites) != len(other.sites) {
		return true
	}

	mine, theirs := ns.ids(), other.ids()
	for i := range mine {
		a, b := ns.sites[mine[i]], other.sites[theirs[i]]
		if a.ID != b.ID ||
			a.PublicSeqNum != b.PublicSeqNum ||
			a.PrivateSeqNum != b.PrivateSeqNum ||
			a.BaseURL != b.BaseURL {
			return true
		}
	}

	if len(ns.stalled) != len(other.stalled) {
		return true
	}
	for id := range ns.stalled {
		if _, ok := other.stalled[id]; !ok {
			return true
		}
	}

	return false
}

func (ns *NetworkState) ids() []int {
	ids := make([]int, 0, len(ns.sites))
	for id := range ns.sites {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedKeys(m map[int]struct{}) []int {
	res := make([]int, 0, len(m))
	for id := range m {
		res = append(res, id)
	}
	sort.Ints(res)
	return res
}

func unknownSite(id int) error {
	return common.NewStoreErr("NetworkState", common.UnknownSite, strconv.Itoa(id))
}

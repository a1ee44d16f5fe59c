package netstate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	sites []site.Site
	err   error
}

func (d *fakeDirectory) AllSites() ([]site.Site, error) {
	if d.err != nil {
		return nil, d.err
	}
	res := make([]site.Site, len(d.sites))
	copy(res, d.sites)
	return res, nil
}

func (d *fakeDirectory) set(id int, f func(s *site.Site)) {
	for i := range d.sites {
		if d.sites[i].ID == id {
			f(&d.sites[i])
		}
	}
}

type fakeStalls []int

func (f *fakeStalls) StalledOriginIDs() []int { return *f }

func mkSite(id int, url string, pub, priv int64) site.Site {
	s := site.New(id, "", url)
	s.PublicSeqNum = pub
	s.PrivateSeqNum = priv
	return s
}

func initState(t *testing.T, dir *fakeDirectory, stalls *fakeStalls) *NetworkState {
	ns := New(1, dir, stalls)
	require.NoError(t, ns.Refresh())
	return ns
}

func TestLookups(t *testing.T) {
	dir := &fakeDirectory{sites: []site.Site{
		mkSite(2, "b:1", 5, 7),
		mkSite(1, "", 10, 0),
	}}
	ns := initState(t, dir, &fakeStalls{})

	max, err := ns.MaxSeqNum(2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), max)

	s, err := ns.Find(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.PublicSeqNum)

	_, err = ns.Find(9)
	assert.True(t, common.IsStore(err, common.UnknownSite))
	_, err = ns.MaxSeqNum(9)
	assert.True(t, common.IsStore(err, common.UnknownSite))
	_, err = ns.IsOffline(9)
	assert.True(t, common.IsStore(err, common.UnknownSite))
	assert.True(t, common.IsStore(ns.FlagOffline(9), common.UnknownSite))
	assert.Empty(t, ns.OfflineIDs())

	require.NoError(t, ns.FlagOffline(2))
	off, err := ns.IsOffline(2)
	require.NoError(t, err)
	assert.True(t, off)
	assert.Equal(t, []int{2}, ns.OfflineIDs())
}

func TestSitesFilters(t *testing.T) {
	inactive := mkSite(4, "d:1", 0, 0)
	inactive.IsActive = false

	dir := &fakeDirectory{sites: []site.Site{
		mkSite(3, "c:1", 0, 0),
		inactive,
		mkSite(1, "a:1", 0, 0),
		mkSite(2, "", 0, 0),
		mkSite(0, "z:1", 0, 0),
	}}
	ns := initState(t, dir, &fakeStalls{})
	require.NoError(t, ns.FlagOffline(3))

	ids := func(sites []site.Site) []int {
		res := []int{}
		for _, s := range sites {
			res = append(res, s.ID)
		}
		return res
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, ids(ns.Sites(AllSites)))
	assert.Equal(t, []int{0, 2, 3, 4}, ids(ns.Sites(ExcludeLocal)))
	assert.Equal(t, []int{0, 1, 3, 4}, ids(ns.Sites(ExcludeNoURL)))
	assert.Equal(t, []int{0, 1, 2, 4}, ids(ns.Sites(ExcludeOffline)))
	assert.Equal(t, []int{0, 1, 2, 3}, ids(ns.Sites(ExcludeDeactivated)))
	assert.Equal(t, []int{0, 3}, ids(ns.Sites(PeerFilter)))
	assert.Equal(t, []int{0}, ids(ns.Sites(PushFilter)))
}

func TestRefreshFailureLeavesStateUntouched(t *testing.T) {
	dir := &fakeDirectory{sites: []site.Site{mkSite(1, "", 1, 0), mkSite(2, "b:1", 1, 0)}}
	ns := initState(t, dir, &fakeStalls{})
	before := ns.Clone()

	dir.err = errors.New("registry down")
	dir.set(2, func(s *site.Site) { s.PublicSeqNum = 9 })

	err := ns.Refresh()
	require.Error(t, err)
	assert.False(t, ns.IsDifferentFrom(before))
}

func TestClone(t *testing.T) {
	stalls := fakeStalls{2}
	dir := &fakeDirectory{sites: []site.Site{mkSite(1, "", 1, 0), mkSite(2, "b:1", 1, 0)}}
	ns := initState(t, dir, &stalls)
	require.NoError(t, ns.FlagOffline(2))

	c := ns.Clone()
	assert.False(t, c.IsDifferentFrom(ns))
	if diff := cmp.Diff(ns.Sites(0), c.Sites(0)); diff != "" {
		t.Fatalf("clone sites mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ns.OfflineIDs(), c.OfflineIDs())
	assert.Equal(t, []int{2}, c.StalledIDs())

	// mutating the original never leaks into the copy
	dir.set(2, func(s *site.Site) { s.PublicSeqNum = 5; s.BaseURL = "b:2" })
	stalls = fakeStalls{}
	require.NoError(t, ns.Refresh())

	s, err := c.Find(2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.PublicSeqNum)
	assert.Equal(t, []int{2}, c.OfflineIDs())
	assert.Equal(t, []int{2}, c.StalledIDs())
	assert.Empty(t, ns.OfflineIDs())
	assert.Empty(t, ns.StalledIDs())
}

func TestDifferences(t *testing.T) {
	base := []site.Site{mkSite(1, "", 10, 0), mkSite(2, "b:1", 5, 0)}

	cases := []struct {
		name    string
		mutate  func(d *fakeDirectory, s *fakeStalls)
		differs bool
	}{
		{"nothing", func(d *fakeDirectory, s *fakeStalls) {}, false},
		{"public", func(d *fakeDirectory, s *fakeStalls) {
			d.set(2, func(x *site.Site) { x.PublicSeqNum++ })
		}, true},
		{"private", func(d *fakeDirectory, s *fakeStalls) {
			d.set(1, func(x *site.Site) { x.PrivateSeqNum++ })
		}, true},
		{"url", func(d *fakeDirectory, s *fakeStalls) {
			d.set(2, func(x *site.Site) { x.BaseURL = "b:2" })
		}, true},
		{"url removed", func(d *fakeDirectory, s *fakeStalls) {
			d.set(2, func(x *site.Site) { x.BaseURL = "" })
		}, true},
		{"new site", func(d *fakeDirectory, s *fakeStalls) {
			d.sites = append(d.sites, mkSite(3, "", 0, 0))
		}, true},
		{"site replaced", func(d *fakeDirectory, s *fakeStalls) {
			d.sites[1] = mkSite(3, "b:1", 5, 0)
		}, true},
		{"stalled", func(d *fakeDirectory, s *fakeStalls) {
			*s = fakeStalls{2}
		}, true},
		{"name and activity are ignored", func(d *fakeDirectory, s *fakeStalls) {
			d.set(2, func(x *site.Site) { x.Name = "renamed"; x.IsActive = false })
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sites := make([]site.Site, len(base))
			copy(sites, base)
			dir := &fakeDirectory{sites: sites}
			stalls := &fakeStalls{}

			a := initState(t, dir, stalls)
			tc.mutate(dir, stalls)
			b := initState(t, dir, stalls)

			assert.Equal(t, tc.differs, a.IsDifferentFrom(b))
			assert.Equal(t, tc.differs, b.IsDifferentFrom(a), "symmetry")
		})
	}
}

func TestOfflineIsNotADifference(t *testing.T) {
	dir := &fakeDirectory{sites: []site.Site{mkSite(1, "", 1, 0), mkSite(2, "b:1", 1, 0)}}
	a := initState(t, dir, &fakeStalls{})
	b := a.Clone()
	require.NoError(t, b.FlagOffline(2))

	assert.False(t, a.IsDifferentFrom(b))
	assert.False(t, b.IsDifferentFrom(a))
	assert.True(t, a.IsDifferentFrom(nil))
}

func TestAddressChangeClearsOffline(t *testing.T) {
	dir := &fakeDirectory{sites: []site.Site{mkSite(1, "", 1, 0), mkSite(2, "b:1", 1, 0), mkSite(3, "c:1", 1, 0)}}
	ns := initState(t, dir, &fakeStalls{})
	require.NoError(t, ns.FlagOffline(2))
	require.NoError(t, ns.FlagOffline(3))

	// same address: stays offline
	require.NoError(t, ns.Refresh())
	assert.Equal(t, []int{2, 3}, ns.OfflineIDs())

	dir.set(2, func(s *site.Site) { s.BaseURL = "b:2" })
	dir.set(3, func(s *site.Site) { s.BaseURL = "" })
	require.NoError(t, ns.Refresh())

	off, err := ns.IsOffline(2)
	require.NoError(t, err)
	assert.False(t, off)

	// a removed address is not evidence of a fix
	off, err = ns.IsOffline(3)
	require.NoError(t, err)
	assert.True(t, off)

	// offline ids stay a subset of known sites
	dir.sites = dir.sites[:2]
	require.NoError(t, ns.Refresh())
	assert.Empty(t, ns.OfflineIDs())
}

// Local site 1 at 10/0 and site 2 at 5/0. Site 2 catches up during the
// first round and nothing happens during the second.
func TestConvergenceRounds(t *testing.T) {
	dir := &fakeDirectory{sites: []site.Site{mkSite(1, "", 10, 0), mkSite(2, "b:1", 5, 0)}}
	ns := initState(t, dir, &fakeStalls{})

	before := ns.Clone()
	dir.set(2, func(s *site.Site) { s.PublicSeqNum = 10 })
	require.NoError(t, ns.Refresh())
	assert.True(t, ns.IsDifferentFrom(before))

	before = ns.Clone()
	require.NoError(t, ns.Refresh())
	assert.False(t, ns.IsDifferentFrom(before))
}

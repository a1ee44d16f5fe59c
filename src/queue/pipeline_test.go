package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/registry"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
)

type testPipeline struct {
	*Pipeline
	store    *store.InmemStore
	registry *registry.Registry
}

// local site 1, origins 0, 2 and 3
func initPipeline(t *testing.T) *testPipeline {
	s := store.NewInmemStore()
	r := registry.New(s, 1, cm.NewTestEntry(t, logrus.DebugLevel))
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Upsert(site.New(i, "", fmt.Sprintf("s%d:1", i))))
	}
	return &testPipeline{
		Pipeline: NewPipeline(r, LogApplier(s, r), cm.NewTestEntry(t, logrus.DebugLevel)),
		store:    s,
		registry: r,
	}
}

func pub(t *testing.T, origin int, seq, prev int64) string {
	m, err := ism.New(origin, seq, prev, site.Public, site.InvalidSiteID, "x")
	require.NoError(t, err)
	return m.Raw
}

func priv(t *testing.T, origin int, seq, prev int64, dest int) string {
	m, err := ism.New(origin, seq, prev, site.Private, dest, "y")
	require.NoError(t, err)
	return m.Raw
}

func drain(t *testing.T, p *testPipeline) int {
	n := 0
	for {
		ok, err := p.DispatchOne()
		require.NoError(t, err)
		if !ok {
			return n
		}
		n++
	}
}

func TestDispatchInOrder(t *testing.T) {
	p := initPipeline(t)

	require.NoError(t, p.Enqueue(2, []string{
		pub(t, 2, 2, 1),
		pub(t, 2, 0, site.InvalidSeqNum),
		pub(t, 2, 1, 0),
	}, nil))
	assert.Equal(t, int64(3), p.PendingCount())
	assert.Empty(t, p.StalledOriginIDs())

	assert.Equal(t, 3, drain(t, p))
	assert.Equal(t, int64(0), p.PendingCount())

	s, err := p.registry.Site(2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.PublicSeqNum)

	logged, err := p.store.MessagesFrom(2, site.InvalidSeqNum, store.NoLimit)
	require.NoError(t, err)
	assert.Len(t, logged, 3)
}

func TestGapStallsQueue(t *testing.T) {
	p := initPipeline(t)

	require.NoError(t, p.Enqueue(2, []string{
		pub(t, 2, 0, site.InvalidSeqNum),
		pub(t, 2, 2, 1),
		pub(t, 3, 5, 4),
	}, nil))

	assert.Equal(t, 1, drain(t, p))
	assert.Equal(t, []int{2, 3}, p.StalledOriginIDs())
	assert.Equal(t, int64(2), p.PendingCount())

	// the missing message unblocks origin 2
	require.NoError(t, p.Enqueue(0, []string{pub(t, 2, 1, 0)}, nil))
	assert.Equal(t, 2, drain(t, p))
	assert.Equal(t, []int{3}, p.StalledOriginIDs())
}

func TestChainsAreIndependent(t *testing.T) {
	p := initPipeline(t)

	// the public chain has a gap, the private chain to us does not
	require.NoError(t, p.Enqueue(2, []string{
		pub(t, 2, 3, 1),
		priv(t, 2, 4, site.InvalidSeqNum, 1),
		priv(t, 2, 6, 4, 1),
	}, nil))

	assert.Equal(t, 2, drain(t, p))

	s, err := p.registry.Site(2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), s.PrivateSeqNum)
	assert.Equal(t, site.InvalidSeqNum, s.PublicSeqNum)
	assert.Equal(t, []int{2}, p.StalledOriginIDs())
}

func TestEnqueueDrops(t *testing.T) {
	p := initPipeline(t)
	_, err := p.registry.Advance(2, 4, site.Public)
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(2, []string{
		pub(t, 2, 3, 2),      // already processed
		pub(t, 1, 0, -1),     // our own
		priv(t, 2, 5, -1, 3), // not for us
		pub(t, 9, 0, -1),     // unknown origin
		pub(t, 2, 5, 4),      // queued
		pub(t, 2, 5, 4),      // duplicate
	}, nil))

	assert.Equal(t, int64(1), p.PendingCount())

	err = p.Enqueue(2, []string{pub(t, 2, 6, 5), "<message seq=\"x\"/>"}, nil)
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.PendingCount())
}

func TestHints(t *testing.T) {
	p := initPipeline(t)

	require.NoError(t, p.Enqueue(2, nil, map[int]int64{0: 3, 3: 4}))
	assert.Equal(t, int64(7), p.AvailabilityHint(2))
	assert.Equal(t, int64(0), p.AvailabilityHint(3))

	// pushes carry no hint and leave the last one untouched
	require.NoError(t, p.Enqueue(2, nil, nil))
	assert.Equal(t, int64(7), p.AvailabilityHint(2))

	require.NoError(t, p.Enqueue(2, nil, map[int]int64{}))
	assert.Equal(t, int64(0), p.AvailabilityHint(2))
}

func TestFailedApplyStallsUntilRetry(t *testing.T) {
	s := store.NewInmemStore()
	r := registry.New(s, 1, cm.NewTestEntry(t, logrus.DebugLevel))
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Upsert(site.New(i, "", "")))
	}

	fail := true
	apply := LogApplier(s, r)
	p := NewPipeline(r, func(m ism.Message) error {
		if fail && m.Origin == 2 {
			return errors.New("constraint violation")
		}
		return apply(m)
	}, cm.NewTestEntry(t, logrus.DebugLevel))

	require.NoError(t, p.Enqueue(0, []string{
		pub(t, 2, 0, -1),
		pub(t, 3, 0, -1),
	}, nil))

	// origin 3 is not blocked by origin 2
	ok, err := p.DispatchOne()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.DispatchOne()
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []int{2}, p.StalledOriginIDs())
	queues := p.Queues()
	require.Len(t, queues, 1)
	assert.True(t, queues[0].Failed)
	assert.Equal(t, "constraint violation", queues[0].Error)

	fail = false
	p.Retry(2)
	ok, err = p.DispatchOne()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, p.StalledOriginIDs())
	assert.Empty(t, p.Queues())
}

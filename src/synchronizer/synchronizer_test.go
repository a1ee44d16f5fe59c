package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/net"
	"github.com/mosaicnetworks/sitesync/src/netstate"
	"github.com/mosaicnetworks/sitesync/src/site"
)

var errUnreachable error = &net.PeerError{SiteID: 2, Op: "pull", Err: errors.New("connection refused")}

type fakeDir struct {
	sync.Mutex
	local int
	sites map[int]site.Site
	err   error
	// moving bumps the public cursor of this site on every read.
	moving int
}

func newFakeDir(local int, sites ...site.Site) *fakeDir {
	d := &fakeDir{local: local, sites: make(map[int]site.Site), moving: -1}
	for _, s := range sites {
		d.sites[s.ID] = s
	}
	return d
}

func (d *fakeDir) AllSites() ([]site.Site, error) {
	d.Lock()
	defer d.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	if s, ok := d.sites[d.moving]; ok {
		s.PublicSeqNum++
		d.sites[d.moving] = s
	}

	res := []site.Site{}
	for _, s := range d.sites {
		res = append(res, s)
	}
	return site.Sorted(res), nil
}

func (d *fakeDir) LocalSiteID() int {
	return d.local
}

func (d *fakeDir) Site(id int) (site.Site, error) {
	d.Lock()
	defer d.Unlock()

	s, ok := d.sites[id]
	if !ok {
		return site.Site{}, cm.NewStoreErr("Site", cm.UnknownSite, fmt.Sprint(id))
	}
	return s, nil
}

type pushCall struct {
	target int
	msgs   []string
}

type fakeExchange struct {
	sync.Mutex
	pull    func(target site.Site, wanted []int, max int) (PullResult, error)
	pushErr map[int]error
	pulls   []int
	pushes  []pushCall
}

func (e *fakeExchange) Pull(target site.Site, wanted []int, max int) (PullResult, error) {
	e.Lock()
	e.pulls = append(e.pulls, target.ID)
	e.Unlock()

	if e.pull == nil {
		return PullResult{}, nil
	}
	return e.pull(target, wanted, max)
}

func (e *fakeExchange) Push(target site.Site, msgs []string) error {
	e.Lock()
	defer e.Unlock()

	if err := e.pushErr[target.ID]; err != nil {
		return err
	}
	e.pushes = append(e.pushes, pushCall{target.ID, msgs})
	return nil
}

// fakePipeline counts what it is given. Every enqueued message becomes ready.
type fakePipeline struct {
	ready      int
	pending    int64
	stalled    []int
	hints      map[int]int64
	enqueueErr error
	enqueued   int
}

func (p *fakePipeline) Enqueue(source int, msgs []string, hints map[int]int64) error {
	if p.enqueueErr != nil {
		return p.enqueueErr
	}
	if p.hints == nil {
		p.hints = make(map[int]int64)
	}
	if hints != nil {
		var n int64
		for _, h := range hints {
			n += h
		}
		p.hints[source] = n
	}
	p.ready += len(msgs)
	p.enqueued += len(msgs)
	return nil
}

func (p *fakePipeline) DispatchOne() (bool, error) {
	if p.ready == 0 {
		return false, nil
	}
	p.ready--
	return true, nil
}

func (p *fakePipeline) StalledOriginIDs() []int {
	return p.stalled
}

func (p *fakePipeline) PendingCount() int64 {
	return p.pending
}

func (p *fakePipeline) AvailabilityHint(id int) int64 {
	return p.hints[id]
}

type fakeOutbox struct {
	fn func(target int, after int64, limit int) ([]string, error)
}

func (o *fakeOutbox) MessagesFor(target int, after int64, limit int) ([]string, error) {
	if o.fn == nil {
		return []string{}, nil
	}
	return o.fn(target, after, limit)
}

func testConfig(t *testing.T) *Config {
	conf := NewDefaultConfig()
	conf.RoundDelay = 0
	conf.Clock = clockwork.NewFakeClock()
	conf.Logger = cm.NewTestEntry(t, logrus.DebugLevel)
	return conf
}

func peers(n int) []site.Site {
	res := []site.Site{}
	for i := 0; i < n; i++ {
		res = append(res, site.New(i, "", fmt.Sprintf("s%d:1", i)))
	}
	return res
}

// a peer that hands out total messages, batch by batch
func serving(total int) func(site.Site, []int, int) (PullResult, error) {
	served := 0
	return func(target site.Site, wanted []int, max int) (PullResult, error) {
		n := total - served
		if n > max {
			n = max
		}
		msgs := make([]string, n)
		for i := range msgs {
			msgs[i] = "<message/>"
		}
		served += n
		return PullResult{
			Messages:  msgs,
			Available: map[int]int64{target.ID: int64(total - served)},
		}, nil
	}
}

func TestSynchronizeEmptyNetwork(t *testing.T) {
	dir := newFakeDir(1, peers(3)...)
	ex := &fakeExchange{}
	pipe := &fakePipeline{}

	s := New(testConfig(t), dir, ex, pipe, &fakeOutbox{})

	res, err := s.Synchronize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rounds)
	assert.True(t, res.Synchronized)
	assert.False(t, res.RoundLimitReached)
	// one poll per peer, ascending
	assert.Equal(t, []int{0, 2}, ex.pulls)

	last, ok := s.LastResult()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestSynchronizePullsInBatches(t *testing.T) {
	dir := newFakeDir(1, peers(2)...)
	ex := &fakeExchange{pull: serving(10)}
	pipe := &fakePipeline{}

	conf := testConfig(t)
	conf.ExchangeSize = 4

	res, err := New(conf, dir, ex, pipe, &fakeOutbox{}).Synchronize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.Received)
	assert.Equal(t, int64(10), res.Processed)
	assert.Equal(t, int64(100), res.ReceivedBytes)
	// poll, then batches of 4, 4 and 2
	assert.Equal(t, []int{0, 0, 0, 0}, ex.pulls)
}

func TestPeerInteractionStopsWithoutProgress(t *testing.T) {
	dir := newFakeDir(1, peers(2)...)
	// the peer claims to have messages but never sends any
	ex := &fakeExchange{pull: func(target site.Site, wanted []int, max int) (PullResult, error) {
		return PullResult{Messages: []string{}, Available: map[int]int64{0: 5}}, nil
	}}
	pipe := &fakePipeline{pending: 0}

	res, err := New(testConfig(t), dir, ex, pipe, &fakeOutbox{}).Synchronize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, []int{0, 0}, ex.pulls)
}

func TestStalledOriginsNotRequested(t *testing.T) {
	dir := newFakeDir(1, peers(4)...)
	s := New(testConfig(t), dir, &fakeExchange{}, &fakePipeline{stalled: []int{2}}, &fakeOutbox{})
	s.state = netstate.New(1, dir, s.pipeline)
	require.NoError(t, s.state.Refresh())

	assert.Equal(t, []int{0, 3}, s.wanted())

	d := dir.sites[3]
	d.IsActive = false
	dir.sites[3] = d
	require.NoError(t, s.state.Refresh())

	assert.Equal(t, []int{0}, s.wanted())
}

func TestPeerUnreachable(t *testing.T) {
	dir := newFakeDir(1, peers(3)...)
	ex := &fakeExchange{pull: func(target site.Site, wanted []int, max int) (PullResult, error) {
		if target.ID == 2 {
			return PullResult{}, errUnreachable
		}
		return PullResult{}, nil
	}}
	pipe := &fakePipeline{pending: 3}

	s := New(testConfig(t), dir, ex, pipe, &fakeOutbox{})
	s.state = netstate.New(1, dir, pipe)
	require.NoError(t, s.state.Refresh())

	require.NoError(t, s.interact(dir.sites[2]))

	offline, err := s.state.IsOffline(2)
	require.NoError(t, err)
	assert.True(t, offline)
	assert.Equal(t, int64(3), pipe.PendingCount())

	res, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.PeersOffline)
	assert.Equal(t, int64(3), res.Pending)
	assert.False(t, res.Synchronized)
}

func TestPushFailureFlagsOffline(t *testing.T) {
	dir := newFakeDir(1, peers(3)...)
	ex := &fakeExchange{pushErr: map[int]error{0: errUnreachable}}
	out := &fakeOutbox{fn: func(target int, after int64, limit int) ([]string, error) {
		return []string{"<message/>"}, nil
	}}

	s := New(testConfig(t), dir, ex, &fakePipeline{}, out)
	s.state = netstate.New(1, dir, s.pipeline)
	require.NoError(t, s.state.Refresh())

	pushed, err := s.pushNew(site.InvalidSeqNum)
	require.NoError(t, err)

	assert.Equal(t, int64(1), pushed)
	offline, err := s.state.IsOffline(0)
	require.NoError(t, err)
	assert.True(t, offline)
	require.Len(t, ex.pushes, 1)
	assert.Equal(t, 2, ex.pushes[0].target)
}

func TestPushChunks(t *testing.T) {
	dir := newFakeDir(1, peers(2)...)
	ex := &fakeExchange{}
	out := &fakeOutbox{fn: func(target int, after int64, limit int) ([]string, error) {
		assert.Equal(t, unbounded, limit)
		return []string{"<a/>", "<b/>", "<c/>", "<d/>", "<e/>"}, nil
	}}

	conf := testConfig(t)
	conf.ExchangeSize = 2

	s := New(conf, dir, ex, &fakePipeline{}, out)
	s.state = netstate.New(1, dir, s.pipeline)
	require.NoError(t, s.state.Refresh())

	pushed, err := s.pushNew(4)
	require.NoError(t, err)

	assert.Equal(t, int64(5), pushed)
	require.Len(t, ex.pushes, 3)
	assert.Equal(t, []string{"<e/>"}, ex.pushes[2].msgs)
	assert.Equal(t, int64(20), s.stats.SentBytes)
}

func TestBootstrapBroadcast(t *testing.T) {
	coord := site.New(0, "", "s0:1")
	coord.PublicSeqNum = 3
	coord.PrivateSeqNum = 8
	local := site.New(1, "", "")
	local.PublicSeqNum = 2

	var floors []int64
	out := &fakeOutbox{fn: func(target int, after int64, limit int) ([]string, error) {
		floors = append(floors, after)
		return []string{"<message/>"}, nil
	}}

	dir := newFakeDir(1, coord, local, site.New(2, "", "s2:1"))
	ex := &fakeExchange{}

	res, err := New(testConfig(t), dir, ex, &fakePipeline{}, out).Synchronize(context.Background())
	require.NoError(t, err)

	// whole history to sites 0 and 2, then the end of round push
	assert.Equal(t, []int64{-1, -1, 2, 2}, floors)
	assert.Equal(t, int64(4), res.Pushed)
}

func TestNoBootstrapBroadcast(t *testing.T) {
	testCases := []struct {
		name          string
		coordPublic   int64
		coordPrivate  int64
		localPublic   int64
		coordinatorID int
	}{
		{"no gap", 8, 8, 2, 0},
		{"local caught up", 3, 8, 64, 0},
		{"unknown coordinator", 3, 8, 2, 9},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			coord := site.New(0, "", "s0:1")
			coord.PublicSeqNum = tc.coordPublic
			coord.PrivateSeqNum = tc.coordPrivate
			local := site.New(1, "", "")
			local.PublicSeqNum = tc.localPublic

			var floors []int64
			out := &fakeOutbox{fn: func(target int, after int64, limit int) ([]string, error) {
				floors = append(floors, after)
				return []string{}, nil
			}}

			conf := testConfig(t)
			conf.CoordinatorID = tc.coordinatorID

			_, err := New(conf, newFakeDir(1, coord, local), &fakeExchange{}, &fakePipeline{}, out).
				Synchronize(context.Background())
			require.NoError(t, err)

			assert.Equal(t, []int64{tc.localPublic}, floors)
		})
	}
}

func TestSynchronizeRoundLimit(t *testing.T) {
	dir := newFakeDir(1, peers(3)...)
	dir.moving = 2

	conf := testConfig(t)
	conf.MaxRounds = 3

	res, err := New(conf, dir, &fakeExchange{}, &fakePipeline{}, &fakeOutbox{}).Synchronize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rounds)
	assert.True(t, res.RoundLimitReached)
}

func TestSynchronizeErrors(t *testing.T) {
	errDir := errors.New("directory unavailable")
	errBatch := errors.New("malformed batch")

	t.Run("directory", func(t *testing.T) {
		dir := newFakeDir(1, peers(2)...)
		dir.err = errDir

		s := New(testConfig(t), dir, &fakeExchange{}, &fakePipeline{}, &fakeOutbox{})
		_, err := s.Synchronize(context.Background())
		assert.ErrorIs(t, err, errDir)

		_, ok := s.LastResult()
		assert.False(t, ok)
	})

	t.Run("pipeline", func(t *testing.T) {
		dir := newFakeDir(1, peers(2)...)
		pipe := &fakePipeline{enqueueErr: errBatch}

		_, err := New(testConfig(t), dir, &fakeExchange{}, pipe, &fakeOutbox{}).Synchronize(context.Background())
		assert.ErrorIs(t, err, errBatch)
	})

	t.Run("local pull fault", func(t *testing.T) {
		errCursor := errors.New("reading cursors")
		dir := newFakeDir(1, peers(2)...)
		ex := &fakeExchange{pull: func(target site.Site, wanted []int, max int) (PullResult, error) {
			return PullResult{}, errCursor
		}}

		s := New(testConfig(t), dir, ex, &fakePipeline{}, &fakeOutbox{})
		_, err := s.Synchronize(context.Background())
		assert.ErrorIs(t, err, errCursor)
		assert.False(t, errors.Is(err, net.ErrPeerUnreachable))

		offline, err := s.state.IsOffline(0)
		require.NoError(t, err)
		assert.False(t, offline)
	})

	t.Run("local push fault", func(t *testing.T) {
		errEncode := errors.New("encoding request")
		dir := newFakeDir(1, peers(2)...)
		ex := &fakeExchange{pushErr: map[int]error{0: errEncode}}

		_, err := New(testConfig(t), dir, ex, &fakePipeline{}, pushingOutbox()).Synchronize(context.Background())
		assert.ErrorIs(t, err, errEncode)
	})

	t.Run("local site missing", func(t *testing.T) {
		dir := newFakeDir(5, peers(2)...)

		_, err := New(testConfig(t), dir, &fakeExchange{}, &fakePipeline{}, &fakeOutbox{}).Synchronize(context.Background())
		assert.True(t, cm.IsStore(err, cm.UnknownSite))
	})
}

func pushingOutbox() *fakeOutbox {
	return &fakeOutbox{fn: func(target int, after int64, limit int) ([]string, error) {
		return []string{"<message/>"}, nil
	}}
}

func TestRoundPause(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conf := testConfig(t)
	conf.Clock = clock
	conf.RoundDelay = 10 * time.Second

	s := New(conf, newFakeDir(1, peers(2)...), &fakeExchange{}, &fakePipeline{}, pushingOutbox())

	done := make(chan Result)
	go func() {
		res, err := s.Synchronize(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("round did not pause")
	default:
	}

	clock.Advance(10 * time.Second)

	select {
	case res := <-done:
		assert.Equal(t, 1, res.Rounds)
		assert.Equal(t, int64(1), res.Pushed)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRoundPauseCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conf := testConfig(t)
	conf.Clock = clock
	conf.RoundDelay = 10 * time.Second

	dir := newFakeDir(1, peers(3)...)
	dir.moving = 2

	s := New(conf, dir, &fakeExchange{}, &fakePipeline{}, pushingOutbox())

	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome)
	go func() {
		res, err := s.Synchronize(ctx)
		done <- outcome{res, err}
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case o := <-done:
		assert.ErrorIs(t, o.err, context.Canceled)
		assert.Equal(t, 1, o.res.Rounds)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled pause did not end")
	}
}

func TestSynchronizeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	conf := testConfig(t)
	conf.Metrics = NewMetrics(reg)

	dir := newFakeDir(1, peers(2)...)
	ex := &fakeExchange{pull: serving(3)}

	s := New(conf, dir, ex, &fakePipeline{}, &fakeOutbox{})
	_, err := s.Synchronize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(conf.Metrics.Runs.WithLabelValues("synchronized")))
	assert.Equal(t, 3.0, testutil.ToFloat64(conf.Metrics.Received))
	assert.Equal(t, 3.0, testutil.ToFloat64(conf.Metrics.Processed))

	dir.err = errors.New("boom")
	_, err = s.Synchronize(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(conf.Metrics.Runs.WithLabelValues("error")))
}

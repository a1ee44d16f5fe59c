package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/sitesync/src/net"
	"github.com/mosaicnetworks/sitesync/src/netstate"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/sirupsen/logrus"
)

// unbounded asks the outbox for every eligible message.
const unbounded = -1

// Synchronizer runs synchronization rounds against the peers of the local
// site.
type Synchronizer struct {
	// Held for the whole of a run.
	mu sync.Mutex

	conf     *Config
	dir      Directory
	exchange Exchange
	pipeline Pipeline
	outbox   Outbox

	state *netstate.NetworkState
	stats Stats

	resLock sync.RWMutex
	last    *Result

	logger *logrus.Entry
}

// New ...
func New(conf *Config, dir Directory, exchange Exchange, pipeline Pipeline, outbox Outbox) *Synchronizer {
	if conf.ExchangeSize <= 0 {
		conf.ExchangeSize = DefaultExchangeSize
	}
	if conf.Logger == nil {
		conf.Logger = NewDefaultConfig().Logger
	}
	if conf.Clock == nil {
		conf.Clock = NewDefaultConfig().Clock
	}

	return &Synchronizer{
		conf:     conf,
		dir:      dir,
		exchange: exchange,
		pipeline: pipeline,
		outbox:   outbox,
		logger:   conf.Logger.WithField("prefix", "sync"),
	}
}

// Synchronize runs rounds until the NetworkState stops changing, MaxRounds
// is reached, or ctx is done. A run that ends with messages still queued is
// not an error; Result.Synchronized is false.
//
// ctx only interrupts the pause between rounds. If ctx is done when a round
// ends and the state has not converged, the partial Result is returned with
// ctx.Err().
func (s *Synchronizer) Synchronize(ctx context.Context) (res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.conf.Clock.Now()
	defer func() {
		s.conf.Metrics.observe(res, err, s.conf.Clock.Since(start).Seconds())
		if err == nil {
			s.resLock.Lock()
			r := res
			s.last = &r
			s.resLock.Unlock()
		}
	}()

	s.stats = Stats{}
	s.state = netstate.New(s.dir.LocalSiteID(), s.dir, s.pipeline)
	if err := s.state.Refresh(); err != nil {
		return Result{}, fmt.Errorf("reading site directory: %w", err)
	}

	if err := s.bootstrapBroadcast(); err != nil {
		return s.result(false), err
	}

	limitReached := false
	for {
		s.stats.Rounds++

		converged, err := s.round(ctx)
		if err != nil {
			return s.result(false), err
		}
		if converged {
			break
		}
		if s.conf.MaxRounds > 0 && s.stats.Rounds >= s.conf.MaxRounds {
			limitReached = true
			break
		}
		if err := ctx.Err(); err != nil {
			s.logger.WithField("round", s.stats.Rounds).Warn("Synchronization interrupted")
			return s.result(false), err
		}
	}

	res = s.result(limitReached)

	fields := logrus.Fields{
		"rounds":        res.Rounds,
		"received":      res.Received,
		"processed":     res.Processed,
		"sent":          res.Sent,
		"pushed":        res.Pushed,
		"peers_offline": res.PeersOffline,
		"pending":       res.Pending,
	}
	if res.Synchronized {
		s.logger.WithFields(fields).Info("Site synchronized")
	} else {
		s.logger.WithFields(fields).Warn("Site NOT synchronized")
	}

	return res, nil
}

// LastResult returns the Result of the last completed run, if any.
func (s *Synchronizer) LastResult() (Result, bool) {
	s.resLock.RLock()
	defer s.resLock.RUnlock()

	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// round runs one round and reports whether it left the NetworkState
// unchanged.
func (s *Synchronizer) round(ctx context.Context) (bool, error) {
	before := s.state.Clone()
	local := s.dir.LocalSiteID()

	localBefore, err := s.state.MaxSeqNum(local)
	if err != nil {
		return false, err
	}

	s.logger.WithField("round", s.stats.Rounds).Debug("Starting round")

	for _, peer := range s.state.Sites(netstate.PeerFilter) {
		if err := s.interact(peer); err != nil {
			return false, err
		}
	}

	pushed, err := s.pushNew(localBefore)
	if err != nil {
		return false, err
	}

	if err := s.state.Refresh(); err != nil {
		return false, fmt.Errorf("reading site directory: %w", err)
	}

	localAfter, err := s.state.MaxSeqNum(local)
	if err != nil {
		return false, err
	}
	s.stats.Sent += localAfter - localBefore

	if pushed > 0 && s.conf.RoundDelay > 0 {
		s.pause(ctx)
	}

	return !s.state.IsDifferentFrom(before), nil
}

// interact pulls everything peer has for us. A peer that cannot be reached is
// flagged offline; that is not an error.
func (s *Synchronizer) interact(peer site.Site) error {
	logger := s.logger.WithFields(logrus.Fields{
		"round":   s.stats.Rounds,
		"site_id": peer.ID,
	})

	wanted := s.wanted()

	poll, err := s.exchange.Pull(peer, wanted, 0)
	if err != nil {
		return s.exchangeFailed(logger, peer, "pull", err)
	}
	if err := s.pipeline.Enqueue(peer.ID, poll.Messages, poll.Available); err != nil {
		return err
	}

	available := s.pipeline.AvailabilityHint(peer.ID)
	total := available
	var processed int64
	progress := true

	for available > 0 && progress {
		wanted = s.wanted()
		if len(wanted) == 0 {
			break
		}

		batch, err := s.exchange.Pull(peer, wanted, s.conf.ExchangeSize)
		if err != nil {
			return s.exchangeFailed(logger, peer, "pull", err)
		}
		if len(batch.Messages) == 0 {
			logger.WithField("available", available).Warn("Site seems to be ignoring us")
		}

		s.stats.Received += int64(len(batch.Messages))
		s.stats.ReceivedBytes += size(batch.Messages)

		if err := s.pipeline.Enqueue(peer.ID, batch.Messages, batch.Available); err != nil {
			return err
		}

		n, err := s.dispatch()
		if err != nil {
			return err
		}
		processed += n
		progress = n > 0

		available = s.pipeline.AvailabilityHint(peer.ID)

		pct := 100.0
		if total > 0 {
			pct = 100 * float64(total-available) / float64(total)
		}
		logger.WithFields(logrus.Fields{
			"progress":    fmt.Sprintf("%.1f%%", pct),
			"processed":   processed,
			"available":   available,
			"received_kb": s.stats.ReceivedBytes / 1024,
			"sent_kb":     s.stats.SentBytes / 1024,
		}).Info("Pulled")
	}

	return nil
}

// wanted lists the origins to request messages for: every active site but
// the local one, minus those whose queue is stalled.
func (s *Synchronizer) wanted() []int {
	stalled := make(map[int]bool)
	for _, id := range s.pipeline.StalledOriginIDs() {
		stalled[id] = true
	}

	res := []int{}
	for _, o := range s.state.Sites(netstate.ExcludeLocal | netstate.ExcludeDeactivated) {
		if !stalled[o.ID] {
			res = append(res, o.ID)
		}
	}
	return res
}

// dispatch applies queued messages until none is ready.
func (s *Synchronizer) dispatch() (int64, error) {
	var n int64
	for {
		ok, err := s.pipeline.DispatchOne()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	s.stats.Processed += n
	return n, nil
}

// pushNew pushes the local messages with a sequence number greater than
// after to every reachable peer. It returns the number of messages
// delivered.
func (s *Synchronizer) pushNew(after int64) (int64, error) {
	var pushed int64
	for _, peer := range s.state.Sites(netstate.PushFilter) {
		n, err := s.pushTo(peer, after)
		if err != nil {
			return pushed, err
		}
		pushed += n
	}
	return pushed, nil
}

// exchangeFailed flags peer offline when err reports it unreachable. Any
// other error is a local fault and aborts the run.
func (s *Synchronizer) exchangeFailed(logger *logrus.Entry, peer site.Site, op string, err error) error {
	if !errors.Is(err, net.ErrPeerUnreachable) {
		return fmt.Errorf("%s site %d: %w", op, peer.ID, err)
	}
	logger.WithError(err).Warnf("Site unreachable (%s)", op)
	return s.state.FlagOffline(peer.ID)
}

func (s *Synchronizer) pushTo(peer site.Site, after int64) (int64, error) {
	msgs, err := s.outbox.MessagesFor(peer.ID, after, unbounded)
	if err != nil {
		return 0, fmt.Errorf("reading outbox for site %d: %w", peer.ID, err)
	}

	var pushed int64
	for len(msgs) > 0 {
		n := s.conf.ExchangeSize
		if n > len(msgs) {
			n = len(msgs)
		}
		chunk := msgs[:n]

		if err := s.exchange.Push(peer, chunk); err != nil {
			logger := s.logger.WithFields(logrus.Fields{
				"site_id": peer.ID,
				"pushed":  pushed,
				"pending": len(msgs),
			})
			return pushed, s.exchangeFailed(logger, peer, "push", err)
		}

		pushed += int64(n)
		s.stats.Pushed += int64(n)
		s.stats.SentBytes += size(chunk)
		msgs = msgs[n:]
	}

	if pushed > 0 {
		s.logger.WithFields(logrus.Fields{
			"site_id": peer.ID,
			"pushed":  pushed,
		}).Debug("Pushed")
	}

	return pushed, nil
}

// bootstrapBroadcast pushes the whole local history to every peer while the
// coordinator holds private messages newer than its last public one and the
// local site has barely published anything. This is the first run after a
// site joined the federation.
func (s *Synchronizer) bootstrapBroadcast() error {
	coord, err := s.state.Find(s.conf.CoordinatorID)
	if err != nil {
		s.logger.WithField("coordinator_id", s.conf.CoordinatorID).Debug("Coordinator unknown")
		return nil
	}
	local, err := s.state.Find(s.dir.LocalSiteID())
	if err != nil {
		return err
	}

	if coord.PublicSeqNum >= coord.PrivateSeqNum ||
		local.PublicSeqNum >= s.conf.BootstrapThreshold {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"coordinator_public":  coord.PublicSeqNum,
		"coordinator_private": coord.PrivateSeqNum,
		"local_public":        local.PublicSeqNum,
	}).Info("Broadcasting local history")

	_, err = s.pushNew(site.InvalidSeqNum)
	return err
}

// pause waits RoundDelay for peers to process what was pushed to them. A done
// ctx ends the pause early.
func (s *Synchronizer) pause(ctx context.Context) {
	s.logger.WithField("delay", s.conf.RoundDelay).Debug("Waiting for peers")

	select {
	case <-ctx.Done():
	case <-s.conf.Clock.After(s.conf.RoundDelay):
	}
}

func (s *Synchronizer) result(limitReached bool) Result {
	stats := s.stats
	stats.PeersOffline = len(s.state.OfflineIDs())
	pending := s.pipeline.PendingCount()

	return Result{
		Stats:             stats,
		Pending:           pending,
		Synchronized:      pending == 0,
		RoundLimitReached: limitReached,
	}
}

func size(msgs []string) int64 {
	var n int64
	for _, m := range msgs {
		n += int64(len(m))
	}
	return n
}

package node

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/net"
	"github.com/mosaicnetworks/sitesync/src/outbox"
	"github.com/mosaicnetworks/sitesync/src/queue"
	"github.com/mosaicnetworks/sitesync/src/registry"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// Node defines a site daemon
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	store    store.Store
	registry *registry.Registry
	pipeline *queue.Pipeline
	reader   *outbox.Reader
	writer   *outbox.Writer

	syncer *synchronizer.Synchronizer

	trans net.Transport
	netCh <-chan net.RPC

	shutdownCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	start        time.Time
	pullRequests int64
	pushRequests int64
	syncErrors   int64
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	s store.Store,
	reg *registry.Registry,
	trans net.Transport,
) *Node {
	logger := conf.Logger.WithField("site_id", reg.LocalSiteID())

	pipeline := queue.NewPipeline(reg, queue.LogApplier(s, reg), logger)
	reader := outbox.NewReader(s, reg)

	sconf := conf.Sync
	sconf.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:       conf,
		logger:     logger,
		store:      s,
		registry:   reg,
		pipeline:   pipeline,
		reader:     reader,
		writer:     outbox.NewWriter(s, reg, logger),
		trans:      trans,
		netCh:      trans.Consumer(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		start:      time.Now(),
	}

	node.syncer = synchronizer.New(&sconf,
		reg,
		NewExchanger(reg, trans, logger.WithField("prefix", "exchange")),
		pipeline,
		reader)

	return &node
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run answers RPCs until the node is shut down and, when SyncInterval is
// set, synchronizes the site periodically.
func (n *Node) Run() {
	var tick <-chan time.Time
	if n.conf.SyncInterval > 0 {
		tick = n.conf.Sync.Clock.After(n.conf.SyncInterval)
	}

	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() {
				n.processRPC(rpc)
			})
		case <-tick:
			n.goFunc(func() {
				if _, err := n.Synchronize(n.ctx); err != nil {
					n.logger.WithError(err).Error("Synchronize")
				}
			})
			tick = n.conf.Sync.Clock.After(n.conf.SyncInterval)
		case <-n.shutdownCh:
			return
		}
	}
}

// Synchronize runs a synchronization of the local site. Concurrent calls are
// serialized.
func (n *Node) Synchronize(ctx context.Context) (synchronizer.Result, error) {
	if n.getState() == Shutdown {
		return synchronizer.Result{}, net.ErrTransportShutdown
	}

	n.setState(Synchronizing)
	defer func() {
		if n.getState() != Shutdown {
			n.setState(Idle)
		}
	}()

	res, err := n.syncer.Synchronize(ctx)
	if err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
	}
	return res, err
}

// Publish originates a message at the local site. It reaches the other
// sites with the next synchronization.
func (n *Node) Publish(body string, vis site.Visibility, dest int) (ism.Message, error) {
	return n.writer.Publish(body, vis, dest)
}

// Import queues messages obtained out of band, a msgpak bundle for
// instance, and dispatches them. It returns the number of messages
// processed.
func (n *Node) Import(source int, msgs []string) (int, error) {
	if err := n.pipeline.Enqueue(source, msgs, nil); err != nil {
		return 0, err
	}
	return n.dispatch()
}

func (n *Node) dispatch() (int, error) {
	count := 0
	for {
		ok, err := n.pipeline.DispatchOne()
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
}

// RetryQueue clears the failure that stalls origin's receive queue and
// dispatches whatever became ready.
func (n *Node) RetryQueue(origin int) (int, error) {
	n.pipeline.Retry(origin)
	return n.dispatch()
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)

		n.cancel()
		close(n.shutdownCh)

		n.waitRoutines()

		n.trans.Close()

		n.store.Close()
	}
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := map[string]string{
		"id":            strconv.Itoa(n.registry.LocalSiteID()),
		"state":         n.getState().String(),
		"pending":       strconv.FormatInt(n.pipeline.PendingCount(), 10),
		"stalled":       strconv.Itoa(len(n.pipeline.StalledOriginIDs())),
		"pull_requests": strconv.FormatInt(atomic.LoadInt64(&n.pullRequests), 10),
		"push_requests": strconv.FormatInt(atomic.LoadInt64(&n.pushRequests), 10),
		"sync_errors":   strconv.FormatInt(atomic.LoadInt64(&n.syncErrors), 10),
		"uptime":        time.Since(n.start).Round(time.Second).String(),
	}

	if local, err := n.registry.Local(); err == nil {
		s["public_seq_num"] = strconv.FormatInt(local.PublicSeqNum, 10)
		s["private_seq_num"] = strconv.FormatInt(local.PrivateSeqNum, 10)
	}

	if res, ok := n.syncer.LastResult(); ok {
		s["last_sync_rounds"] = strconv.Itoa(res.Rounds)
		s["last_sync_received"] = strconv.FormatInt(res.Received, 10)
		s["last_sync_processed"] = strconv.FormatInt(res.Processed, 10)
		s["last_sync_pushed"] = strconv.FormatInt(res.Pushed, 10)
		s["last_sync_peers_offline"] = strconv.Itoa(res.PeersOffline)
		s["synchronized"] = strconv.FormatBool(res.Synchronized)
	}

	return s
}

// LastSync returns the result of the last completed synchronization.
func (n *Node) LastSync() (synchronizer.Result, bool) {
	return n.syncer.LastResult()
}

// GetSites returns the site registry.
func (n *Node) GetSites() ([]site.Site, error) {
	return n.registry.AllSites()
}

// GetQueues returns the state of the receive queues.
func (n *Node) GetQueues() []queue.QueueStats {
	return n.pipeline.Queues()
}

// ID returns the local site id
func (n *Node) ID() int {
	return n.registry.LocalSiteID()
}

package sitesync

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/config"
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/net"
	"github.com/mosaicnetworks/sitesync/src/node"
	"github.com/mosaicnetworks/sitesync/src/registry"
	"github.com/mosaicnetworks/sitesync/src/service"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// SiteSync is a struct containing the key parts of a sitesync daemon
type SiteSync struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Registry  *registry.Registry
	Service   *service.Service
	Metrics   *prometheus.Registry
	logger    *logrus.Entry
}

// NewSiteSync is a factory method to produce a SiteSync instance.
func NewSiteSync(c *config.Config) *SiteSync {
	engine := &SiteSync{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the sitesync engine
func (s *SiteSync) Init() error {
	s.logger.WithField("site_id", s.Config.LocalSiteID).Debug("Init")

	if err := s.initStore(); err != nil {
		s.logger.WithError(err).Error("sitesync.go:Init() initStore")
		return err
	}

	if err := s.initRegistry(); err != nil {
		s.logger.WithError(err).Error("sitesync.go:Init() initRegistry")
		return err
	}

	if err := s.initTransport(); err != nil {
		s.logger.WithError(err).Error("sitesync.go:Init() initTransport")
		return err
	}

	s.initMetrics()
	s.initNode()

	if !s.Config.NoService {
		s.initService()
	}

	return nil
}

// Run starts the transport listener, the service and the node. It blocks
// until the node is shut down.
func (s *SiteSync) Run() {
	go s.Transport.Listen()

	if s.Service != nil {
		go s.Service.Serve()
	}

	s.Node.Run()
}

// Synchronize runs one synchronization of the local site. The node must be
// running for peers to be able to pull from it in the meantime.
func (s *SiteSync) Synchronize(ctx context.Context) (synchronizer.Result, error) {
	return s.Node.Synchronize(ctx)
}

// Publish originates a message at the local site.
func (s *SiteSync) Publish(body string, vis site.Visibility, dest int) (ism.Message, error) {
	return s.Node.Publish(body, vis, dest)
}

// Shutdown stops the node and releases the transport and the store.
func (s *SiteSync) Shutdown() {
	s.Node.Shutdown()
}

// Open only initialises the store and the registry, for the commands that
// work on the local data without joining the federation. Release them with
// Close.
func (s *SiteSync) Open() error {
	if err := s.initStore(); err != nil {
		return err
	}
	if err := s.initRegistry(); err != nil {
		s.Store.Close()
		return err
	}
	return nil
}

// Close releases the store opened by Open.
func (s *SiteSync) Close() error {
	return s.Store.Close()
}

func (s *SiteSync) initStore() error {
	if !s.Config.Store {
		s.logger.Debug("Creating InmemStore")
		s.Store = store.NewInmemStore()
		return nil
	}

	s.logger.WithField("path", s.Config.DatabaseDir).Debug("Opening BadgerStore")

	bs, err := store.NewBadgerStore(s.Config.DatabaseDir)
	if err != nil {
		return err
	}
	s.Store = bs

	return nil
}

func (s *SiteSync) initRegistry() error {
	s.Registry = registry.New(s.Store, s.Config.LocalSiteID, s.logger)

	if _, err := s.Registry.LoadJSON(s.Config.DataDir); err != nil {
		return err
	}

	if _, err := s.Registry.Local(); err != nil {
		return fmt.Errorf("local site %d is not in the site directory: %w", s.Config.LocalSiteID, err)
	}

	return nil
}

func (s *SiteSync) initTransport() error {
	trans, err := net.NewTCPTransport(
		s.Config.BindAddr,
		s.Config.AdvertiseAddr,
		s.Config.MaxPool,
		s.Config.TCPTimeout,
		s.logger,
	)
	if err != nil {
		return err
	}

	s.Transport = trans

	return nil
}

func (s *SiteSync) initMetrics() {
	s.Metrics = prometheus.NewRegistry()
	s.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (s *SiteSync) initNode() {
	sconf := s.Config.SyncConfig()
	sconf.Metrics = synchronizer.NewMetrics(s.Metrics)

	s.Node = node.NewNode(
		&node.Config{
			Sync:         *sconf,
			SyncInterval: s.Config.SyncInterval,
			Logger:       s.logger,
		},
		s.Store,
		s.Registry,
		s.Transport,
	)
}

func (s *SiteSync) initService() {
	s.Service = service.NewService(s.Config.ServiceAddr, s.Node, s.Metrics, s.logger)
}

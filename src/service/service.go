package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/node"
	"github.com/mosaicnetworks/sitesync/src/queue"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	gatherer    prometheus.Gatherer
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, gatherer prometheus.Gatherer, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		gatherer:    gatherer,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering sitesync API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/sites", s.makeHandler(s.GetSites))
	s.mux.HandleFunc("/network", s.makeHandler(s.GetNetwork))
	s.mux.HandleFunc("/retry", s.makeHandler(s.RetryQueue))
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving sitesync API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetSites returns the site registry.
func (s *Service) GetSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.node.GetSites()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving sites")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(sites)
}

// NetworkInfo is the local site's view of the federation.
type NetworkInfo struct {
	LastSync *synchronizer.Result `json:"last_sync,omitempty"`
	Queues   []queue.QueueStats   `json:"queues"`
	Stats    map[string]string    `json:"stats"`
}

// GetNetwork returns the outcome of the last synchronization and the state
// of the receive queues.
func (s *Service) GetNetwork(w http.ResponseWriter, r *http.Request) {
	info := NetworkInfo{
		Queues: s.node.GetQueues(),
		Stats:  s.node.GetStats(),
	}

	if res, ok := s.node.LastSync(); ok {
		info.LastSync = &res
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(info)
}

// RetryQueue clears the failure of the queue given by the origin query
// parameter. It only accepts POST.
func (s *Service) RetryQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	origin, err := strconv.Atoi(r.URL.Query().Get("origin"))
	if err != nil {
		http.Error(w, "invalid origin", http.StatusBadRequest)
		return
	}

	processed, err := s.node.RetryQueue(origin)
	if err != nil {
		s.logger.WithError(err).WithField("origin", origin).Error("Retrying queue")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]int{"processed": processed})
}

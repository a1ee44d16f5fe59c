package store

import (
	"sort"
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/site"
)

// InmemStore implements the Store interface with maps.
type InmemStore struct {
	sync.RWMutex
	sites    map[int]site.Site
	messages map[int][]ism.Message //origin => messages sorted by seq
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		sites:    make(map[int]site.Site),
		messages: make(map[int][]ism.Message),
	}
}

// GetSite implements the Store interface.
func (s *InmemStore) GetSite(id int) (site.Site, error) {
	s.RLock()
	defer s.RUnlock()
	res, ok := s.sites[id]
	if !ok {
		return site.Site{}, cm.NewStoreErr("Site", cm.KeyNotFound, strconv.Itoa(id))
	}
	return res, nil
}

// SetSite implements the Store interface.
func (s *InmemStore) SetSite(st site.Site) error {
	s.Lock()
	defer s.Unlock()
	s.sites[st.ID] = st
	return nil
}

// Sites implements the Store interface.
func (s *InmemStore) Sites() ([]site.Site, error) {
	s.RLock()
	defer s.RUnlock()
	res := make([]site.Site, 0, len(s.sites))
	for _, st := range s.sites {
		res = append(res, st)
	}
	sort.Sort(site.ByID(res))
	return res, nil
}

// AppendMessage implements the Store interface.
func (s *InmemStore) AppendMessage(m ism.Message) error {
	s.Lock()
	defer s.Unlock()

	log := s.messages[m.Origin]
	i := sort.Search(len(log), func(i int) bool { return log[i].Seq >= m.Seq })
	if i < len(log) && log[i].Seq == m.Seq {
		return nil
	}

	log = append(log, ism.Message{})
	copy(log[i+1:], log[i:])
	log[i] = m
	s.messages[m.Origin] = log

	return nil
}

// GetMessage implements the Store interface.
func (s *InmemStore) GetMessage(origin int, seq int64) (ism.Message, error) {
	s.RLock()
	defer s.RUnlock()

	log := s.messages[origin]
	i := sort.Search(len(log), func(i int) bool { return log[i].Seq >= seq })
	if i < len(log) && log[i].Seq == seq {
		return log[i], nil
	}
	return ism.Message{}, cm.NewStoreErr("Message", cm.KeyNotFound, string(messageKey(origin, seq)))
}

// MessagesFrom implements the Store interface.
func (s *InmemStore) MessagesFrom(origin int, after int64, limit int) ([]ism.Message, error) {
	s.RLock()
	defer s.RUnlock()

	log := s.messages[origin]
	i := sort.Search(len(log), func(i int) bool { return log[i].Seq > after })

	tail := log[i:]
	if limit >= 0 && len(tail) > limit {
		tail = tail[:limit]
	}

	res := make([]ism.Message, len(tail))
	copy(res, tail)
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

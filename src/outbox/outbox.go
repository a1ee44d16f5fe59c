// Package outbox serves the message log to other sites.
//
// The Reader selects the messages a given site may receive: the local
// site's own output for pushes, and every origin's messages for pulls. The
// Writer originates new messages at the local site.
package outbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/registry"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/store"
)

// NoLimit ...
const NoLimit = store.NoLimit

// Reader ...
type Reader struct {
	store    store.Store
	registry *registry.Registry
}

// NewReader ...
func NewReader(s store.Store, r *registry.Registry) *Reader {
	return &Reader{
		store:    s,
		registry: r,
	}
}

// MessagesFor returns the messages originated by the local site with a
// sequence number greater than after that target may receive, oldest first.
func (r *Reader) MessagesFor(target int, after int64, limit int) ([]string, error) {
	res := []string{}
	if limit == 0 {
		return res, nil
	}

	msgs, err := r.store.MessagesFrom(r.registry.LocalSiteID(), after, NoLimit)
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		if !m.DeliverableTo(target) {
			continue
		}
		res = append(res, m.Raw)
		if limit > 0 && len(res) == limit {
			break
		}
	}

	return res, nil
}

// Replay answers a pull from requester. known holds, for every origin the
// requester wants, the cursor it has reached. Messages are taken from the
// lowest origins first until limit is reached. available counts, per origin,
// the messages that matched but did not fit.
func (r *Reader) Replay(requester int, known map[int]site.Cursor, limit int) ([]string, map[int]int64, error) {
	origins := make([]int, 0, len(known))
	for o := range known {
		if o != requester {
			origins = append(origins, o)
		}
	}
	sort.Ints(origins)

	res := []string{}
	available := make(map[int]int64)

	for _, o := range origins {
		cursor := known[o]
		floor := cursor.Public
		if cursor.Private < floor {
			floor = cursor.Private
		}

		msgs, err := r.store.MessagesFrom(o, floor, NoLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("replay origin %d: %w", o, err)
		}

		for _, m := range msgs {
			if !m.DeliverableTo(requester) || m.Seq <= cursor.Get(m.Visibility) {
				continue
			}
			if limit < 0 || len(res) < limit {
				res = append(res, m.Raw)
				continue
			}
			available[o]++
		}
	}

	return res, available, nil
}

// Writer originates messages at the local site.
type Writer struct {
	sync.Mutex
	store    store.Store
	registry *registry.Registry
	logger   *logrus.Entry
}

// NewWriter ...
func NewWriter(s store.Store, r *registry.Registry, logger *logrus.Entry) *Writer {
	return &Writer{
		store:    s,
		registry: r,
		logger:   logger.WithField("prefix", "outbox"),
	}
}

// Publish appends a new message to the local log. dest is ignored for
// public messages and must name another known site for private ones.
func (w *Writer) Publish(body string, vis site.Visibility, dest int) (ism.Message, error) {
	w.Lock()
	defer w.Unlock()

	local := w.registry.LocalSiteID()

	if vis == site.Private {
		if dest == local {
			return ism.Message{}, fmt.Errorf("private message to the local site")
		}
		if _, err := w.registry.Site(dest); err != nil {
			return ism.Message{}, err
		}
	}

	seq, err := w.registry.NextLocal()
	if err != nil {
		return ism.Message{}, err
	}

	prev, err := w.prev(local, vis, dest)
	if err != nil {
		return ism.Message{}, err
	}

	m, err := ism.New(local, seq, prev, vis, dest, body)
	if err != nil {
		return ism.Message{}, err
	}

	if err := w.store.AppendMessage(m); err != nil {
		return ism.Message{}, err
	}
	if _, err := w.registry.Advance(local, seq, vis); err != nil {
		return ism.Message{}, err
	}

	w.logger.WithFields(logrus.Fields{
		"seq":        m.Seq,
		"prev":       m.Prev,
		"visibility": m.Visibility,
		"dest":       m.Dest,
	}).Debug("Published")

	return m, nil
}

// prev finds the predecessor of the next message in its chain: the last
// public message, or the last private message to the same dest.
func (w *Writer) prev(local int, vis site.Visibility, dest int) (int64, error) {
	s, err := w.registry.Local()
	if err != nil {
		return site.InvalidSeqNum, err
	}
	if vis == site.Public {
		return s.PublicSeqNum, nil
	}

	msgs, err := w.store.MessagesFrom(local, site.InvalidSeqNum, NoLimit)
	if err != nil {
		return site.InvalidSeqNum, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Visibility == site.Private && msgs[i].Dest == dest {
			return msgs[i].Seq, nil
		}
	}
	return site.InvalidSeqNum, nil
}

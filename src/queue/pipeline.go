package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/site"
)

// Directory gives access to the cursors of every origin.
type Directory interface {
	Site(id int) (site.Site, error)
	LocalSiteID() int
}

// Applier incorporates a ready message into the local site. It must advance
// the origin's cursor on success.
type Applier func(m ism.Message) error

type originQueue struct {
	messages []ism.Message //sorted by seq
	failed   bool
	lastErr  error
}

func (q *originQueue) insert(m ism.Message) bool {
	i := sort.Search(len(q.messages), func(i int) bool { return q.messages[i].Seq >= m.Seq })
	if i < len(q.messages) && q.messages[i].Seq == m.Seq {
		return false
	}
	q.messages = append(q.messages, ism.Message{})
	copy(q.messages[i+1:], q.messages[i:])
	q.messages[i] = m
	return true
}

func (q *originQueue) remove(i int) {
	q.messages = append(q.messages[:i], q.messages[i+1:]...)
}

// Pipeline ...
type Pipeline struct {
	sync.Mutex

	directory Directory
	apply     Applier
	queues    map[int]*originQueue  //origin => queue
	hints     map[int]map[int]int64 //source site => origin => available
	logger    *logrus.Entry
}

// NewPipeline ...
func NewPipeline(directory Directory, apply Applier, logger *logrus.Entry) *Pipeline {
	return &Pipeline{
		directory: directory,
		apply:     apply,
		queues:    make(map[int]*originQueue),
		hints:     make(map[int]map[int]int64),
		logger:    logger.WithField("prefix", "queue"),
	}
}

// Enqueue parses a batch received from source and queues every message that
// has not been processed yet. hints, if not nil, replaces the availability
// hint of source. A malformed message rejects the whole batch.
func (p *Pipeline) Enqueue(source int, msgs []string, hints map[int]int64) error {
	parsed, err := ism.ParseAll(msgs)
	if err != nil {
		return fmt.Errorf("batch from site %d: %w", source, err)
	}

	p.Lock()
	defer p.Unlock()

	if hints != nil {
		h := make(map[int]int64, len(hints))
		for o, n := range hints {
			h[o] = n
		}
		p.hints[source] = h
	}

	local := p.directory.LocalSiteID()
	queued, dropped := 0, 0

	for _, m := range parsed {
		if m.Origin == local || !m.DeliverableTo(local) {
			dropped++
			continue
		}

		origin, err := p.directory.Site(m.Origin)
		if err != nil {
			if cm.IsStore(err, cm.UnknownSite) {
				p.logger.WithFields(logrus.Fields{
					"source": source,
					"origin": m.Origin,
					"seq":    m.Seq,
				}).Warn("Message from unknown site")
				dropped++
				continue
			}
			return err
		}

		if m.Seq <= origin.Cursor().Get(m.Visibility) {
			dropped++
			continue
		}

		q, ok := p.queues[m.Origin]
		if !ok {
			q = &originQueue{}
			p.queues[m.Origin] = q
		}
		if q.insert(m) {
			queued++
		} else {
			dropped++
		}
	}

	p.logger.WithFields(logrus.Fields{
		"source":  source,
		"queued":  queued,
		"dropped": dropped,
	}).Debug("Enqueue")

	return nil
}

// DispatchOne applies one ready message. It returns false when no queue can
// make progress.
func (p *Pipeline) DispatchOne() (bool, error) {
	p.Lock()
	defer p.Unlock()

	for _, origin := range p.origins() {
		q := p.queues[origin]
		if q.failed {
			continue
		}

		i, err := p.ready(origin, q)
		if err != nil {
			return false, err
		}
		if i < 0 {
			continue
		}

		m := q.messages[i]
		if err := p.apply(m); err != nil {
			q.failed = true
			q.lastErr = err
			p.logger.WithError(err).WithFields(logrus.Fields{
				"origin": m.Origin,
				"seq":    m.Seq,
			}).Error("Failed to apply message, queue stalled")
			continue
		}

		q.remove(i)
		return true, nil
	}

	return false, nil
}

// ready drops the messages that were processed meanwhile and returns the
// index of the first ready message, or -1.
func (p *Pipeline) ready(origin int, q *originQueue) (int, error) {
	s, err := p.directory.Site(origin)
	if err != nil {
		return -1, err
	}
	cursor := s.Cursor()

	kept := q.messages[:0]
	for _, m := range q.messages {
		if m.Seq > cursor.Get(m.Visibility) {
			kept = append(kept, m)
		}
	}
	q.messages = kept

	for i, m := range q.messages {
		if m.Prev == cursor.Get(m.Visibility) {
			return i, nil
		}
	}
	return -1, nil
}

// StalledOriginIDs returns, in ascending order, the origins whose queue is
// not empty but holds no ready message.
func (p *Pipeline) StalledOriginIDs() []int {
	p.Lock()
	defer p.Unlock()

	res := []int{}
	for _, origin := range p.origins() {
		q := p.queues[origin]
		if len(q.messages) == 0 {
			continue
		}
		if q.failed {
			res = append(res, origin)
			continue
		}
		i, err := p.ready(origin, q)
		if err != nil || (i < 0 && len(q.messages) > 0) {
			res = append(res, origin)
		}
	}
	return res
}

// PendingCount returns the number of queued messages.
func (p *Pipeline) PendingCount() int64 {
	p.Lock()
	defer p.Unlock()

	var n int64
	for _, q := range p.queues {
		n += int64(len(q.messages))
	}
	return n
}

// AvailabilityHint returns the number of messages siteID last reported it
// could still send us.
func (p *Pipeline) AvailabilityHint(siteID int) int64 {
	p.Lock()
	defer p.Unlock()

	var n int64
	for _, c := range p.hints[siteID] {
		n += c
	}
	return n
}

// Retry clears the failure of origin's queue.
func (p *Pipeline) Retry(origin int) {
	p.Lock()
	defer p.Unlock()

	if q, ok := p.queues[origin]; ok {
		q.failed = false
		q.lastErr = nil
	}
}

// QueueStats describes one origin queue.
type QueueStats struct {
	Origin  int    `json:"origin"`
	Pending int    `json:"pending"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// Queues returns the state of every non-empty queue.
func (p *Pipeline) Queues() []QueueStats {
	p.Lock()
	defer p.Unlock()

	res := []QueueStats{}
	for _, origin := range p.origins() {
		q := p.queues[origin]
		if len(q.messages) == 0 && !q.failed {
			continue
		}
		qs := QueueStats{
			Origin:  origin,
			Pending: len(q.messages),
			Failed:  q.failed,
		}
		if q.lastErr != nil {
			qs.Error = q.lastErr.Error()
		}
		res = append(res, qs)
	}
	return res
}

func (p *Pipeline) origins() []int {
	res := make([]int, 0, len(p.queues))
	for o := range p.queues {
		res = append(res, o)
	}
	sort.Ints(res)
	return res
}

package node

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/net"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// CursorSource gives the cursors the local site has reached.
type CursorSource interface {
	LocalSiteID() int
	Site(id int) (site.Site, error)
}

// Exchanger performs the synchronizer's pulls and pushes over a Transport.
type Exchanger struct {
	cursors CursorSource
	trans   net.Transport
	logger  *logrus.Entry
}

// NewExchanger ...
func NewExchanger(cursors CursorSource, trans net.Transport, logger *logrus.Entry) *Exchanger {
	return &Exchanger{
		cursors: cursors,
		trans:   trans,
		logger:  logger,
	}
}

// Pull asks target for up to max messages from the wanted origins that the
// local site has not processed yet.
func (e *Exchanger) Pull(target site.Site, wanted []int, max int) (synchronizer.PullResult, error) {
	addr, err := net.ParseBaseURL(target.BaseURL)
	if err != nil {
		return synchronizer.PullResult{}, e.peerError(target, "pull", err)
	}

	known := make(map[int]site.Cursor, len(wanted))
	for _, o := range wanted {
		s, err := e.cursors.Site(o)
		if err != nil {
			return synchronizer.PullResult{}, fmt.Errorf("cursor of site %d: %w", o, err)
		}
		known[o] = s.Cursor()
	}

	args := net.NewPullRequest(e.cursors.LocalSiteID(), known, max)

	var out net.PullResponse

	if err := e.trans.Pull(addr, args, &out); err != nil {
		return synchronizer.PullResult{}, e.peerError(target, "pull", err)
	}

	e.logger.WithFields(logrus.Fields{
		"site_id":  target.ID,
		"limit":    max,
		"messages": len(out.Messages),
	}).Debug("PullResponse")

	return synchronizer.PullResult{
		Messages:  out.Messages,
		Available: out.Available,
	}, nil
}

// Push delivers msgs to target.
func (e *Exchanger) Push(target site.Site, msgs []string) error {
	addr, err := net.ParseBaseURL(target.BaseURL)
	if err != nil {
		return e.peerError(target, "push", err)
	}

	args := net.PushRequest{
		FromID:   e.cursors.LocalSiteID(),
		Messages: msgs,
	}

	var out net.PushResponse

	if err := e.trans.Push(addr, &args, &out); err != nil {
		return e.peerError(target, "push", err)
	}

	e.logger.WithFields(logrus.Fields{
		"site_id":  target.ID,
		"messages": len(msgs),
		"accepted": out.Accepted,
	}).Debug("PushResponse")

	return nil
}

// peerError attributes a transport failure to target, unless the request
// could not even be encoded.
func (e *Exchanger) peerError(target site.Site, op string, err error) error {
	var encErr *net.EncodeError
	if errors.As(err, &encErr) {
		return fmt.Errorf("%s site %d: %w", op, target.ID, err)
	}
	return &net.PeerError{
		SiteID: target.ID,
		Addr:   target.BaseURL,
		Op:     op,
		Err:    err,
	}
}

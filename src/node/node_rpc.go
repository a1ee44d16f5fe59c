package node

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/net"
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.PullRequest:
		n.processPullRequest(rpc, cmd)
	case *net.PushRequest:
		n.processPushRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processPullRequest(rpc net.RPC, cmd *net.PullRequest) {
	atomic.AddInt64(&n.pullRequests, 1)

	resp := &net.PullResponse{
		FromID: n.registry.LocalSiteID(),
	}

	msgs, available, err := n.reader.Replay(cmd.FromID, cmd.Known(), cmd.Limit)
	if err != nil {
		n.logger.WithError(err).Error("Replaying messages")
	} else {
		resp.Messages = msgs
		resp.Available = available
	}

	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID,
		"limit":    cmd.Limit,
		"messages": len(resp.Messages),
		"rpc_err":  err,
	}).Debug("Responding to PullRequest")

	rpc.Respond(resp, err)
}

func (n *Node) processPushRequest(rpc net.RPC, cmd *net.PushRequest) {
	atomic.AddInt64(&n.pushRequests, 1)

	resp := &net.PushResponse{
		FromID: n.registry.LocalSiteID(),
	}

	accepted, err := n.Import(cmd.FromID, cmd.Messages)
	if err != nil {
		n.logger.WithError(err).Error("Importing pushed messages")
	}
	resp.Accepted = accepted

	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID,
		"messages": len(cmd.Messages),
		"accepted": accepted,
		"rpc_err":  err,
	}).Debug("Responding to PushRequest")

	rpc.Respond(resp, err)
}

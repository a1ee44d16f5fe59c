package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Request types, sent as the first byte of every frame.
const (
	rpcPull uint8 = iota
	rpcPush
)

const bufSize = 64 * 1024

// requestDecoders builds the command carried by each request type.
var requestDecoders = map[uint8]func(*codec.Decoder) (interface{}, error){
	rpcPull: func(dec *codec.Decoder) (interface{}, error) {
		var req PullRequest
		err := dec.Decode(&req)
		return &req, err
	},
	rpcPush: func(dec *codec.Decoder) (interface{}, error) {
		var req PushRequest
		err := dec.Decode(&req)
		return &req, err
	},
}

/*
NetworkTransport exchanges messages with remote sites over a StreamLayer.

A request is one type byte followed by the msgpack encoded command. The reply
is a msgpack error string, empty on success, followed by the msgpack encoded
response. Outbound connections are kept in a small per-site pool and reused
as long as every reply was read completely.
*/
type NetworkTransport struct {
	stream  StreamLayer
	pool    *connPool
	timeout time.Duration

	consumeCh chan RPC

	shutdownLock sync.Mutex
	shutdownCh   chan struct{}

	logger *logrus.Entry
}

// NewNetworkTransport creates a transport on top of stream. maxPool bounds the
// idle connections kept per site; timeout is the I/O deadline of one exchange.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		stream:     stream,
		pool:       newConnPool(maxPool),
		timeout:    timeout,
		consumeCh:  make(chan RPC),
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("prefix", "transport"),
	}
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	if addr := n.stream.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown reports whether Close was called.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Close stops the listener and drops every pooled connection. It is safe to
// call more than once.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.IsShutdown() {
		return nil
	}

	close(n.shutdownCh)
	n.pool.drain()

	return n.stream.Close()
}

// Pull implements the Transport interface.
func (n *NetworkTransport) Pull(target string, args *PullRequest, resp *PullResponse) error {
	return n.call(target, rpcPull, args, resp)
}

// Push implements the Transport interface.
func (n *NetworkTransport) Push(target string, args *PushRequest, resp *PushResponse) error {
	return n.call(target, rpcPush, args, resp)
}

func (n *NetworkTransport) call(target string, rpcType uint8, args, resp interface{}) error {
	if n.IsShutdown() {
		return ErrTransportShutdown
	}

	c := n.pool.take(target)
	if c == nil {
		conn, err := n.stream.Dial(target, n.timeout)
		if err != nil {
			return err
		}
		c = newClientConn(target, conn)
	}

	if n.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(n.timeout))
	}

	reusable, err := c.roundTrip(rpcType, args, resp)
	if !reusable {
		c.conn.Close()
		return err
	}

	c.conn.SetDeadline(time.Time{})
	if n.IsShutdown() || !n.pool.give(c) {
		c.conn.Close()
	}

	return err
}

// Listen accepts inbound connections until the transport is closed.
func (n *NetworkTransport) Listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithError(err).Error("Failed to accept connection")
			continue
		}

		n.logger.WithFields(logrus.Fields{
			"local":  conn.LocalAddr(),
			"remote": conn.RemoteAddr(),
		}).Debug("Accepted connection")

		go n.serve(conn)
	}
}

// serve answers the requests of one inbound connection until it is closed.
func (n *NetworkTransport) serve(conn net.Conn) {
	defer conn.Close()

	c := newClientConn(conn.RemoteAddr().String(), conn)

	for {
		err := n.answer(c)
		if err == nil {
			err = c.w.Flush()
		}

		switch {
		case err == nil:
			continue
		case err == io.EOF:
		case errors.Is(err, ErrTransportShutdown):
			n.logger.WithError(err).Debug("Dropping connection")
		default:
			n.logger.WithError(err).WithField("remote", c.target).Error("Failed to serve request")
		}
		return
	}
}

// answer reads one request, hands it to the consumer and writes the reply.
func (n *NetworkTransport) answer(c *clientConn) error {
	rpcType, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	decode, ok := requestDecoders[rpcType]
	if !ok {
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	cmd, err := decode(c.dec)
	if err != nil {
		return err
	}

	respCh := make(chan RPCResponse, 1)

	select {
	case n.consumeCh <- RPC{Command: cmd, RespChan: respCh}:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	var resp RPCResponse
	select {
	case resp = <-respCh:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	errMsg := ""
	if resp.Error != nil {
		errMsg = resp.Error.Error()
	}
	if err := c.enc.Encode(errMsg); err != nil {
		return err
	}
	return c.enc.Encode(resp.Response)
}

// clientConn is a framed connection to one site.
type clientConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	dec    *codec.Decoder
	enc    *codec.Encoder
}

func newClientConn(target string, conn net.Conn) *clientConn {
	mh := new(codec.MsgpackHandle)
	mh.WriteExt = true
	mh.RawToString = true

	c := &clientConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}
	c.dec = codec.NewDecoder(c.r, mh)
	c.enc = codec.NewEncoder(c.w, mh)
	return c
}

// roundTrip sends one request and reads its reply. A remote error string is
// returned as an error with reusable set, since the stream is still in sync.
func (c *clientConn) roundTrip(rpcType uint8, args, resp interface{}) (reusable bool, err error) {
	if err := c.w.WriteByte(rpcType); err != nil {
		return false, err
	}
	if err := c.enc.Encode(args); err != nil {
		return false, &EncodeError{Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return false, err
	}

	var errMsg string
	if err := c.dec.Decode(&errMsg); err != nil {
		return false, err
	}
	if err := c.dec.Decode(resp); err != nil {
		return false, err
	}

	if errMsg != "" {
		return true, errors.New(errMsg)
	}
	return true, nil
}

// connPool keeps idle outbound connections per target.
type connPool struct {
	sync.Mutex
	max   int
	conns map[string][]*clientConn
}

func newConnPool(max int) *connPool {
	return &connPool{
		max:   max,
		conns: make(map[string][]*clientConn),
	}
}

func (p *connPool) take(target string) *clientConn {
	p.Lock()
	defer p.Unlock()

	idle := p.conns[target]
	if len(idle) == 0 {
		return nil
	}
	c := idle[len(idle)-1]
	idle[len(idle)-1] = nil
	p.conns[target] = idle[:len(idle)-1]
	return c
}

// give returns c to the pool, or false if the pool of its target is full.
func (p *connPool) give(c *clientConn) bool {
	p.Lock()
	defer p.Unlock()

	if len(p.conns[c.target]) >= p.max {
		return false
	}
	p.conns[c.target] = append(p.conns[c.target], c)
	return true
}

func (p *connPool) drain() {
	p.Lock()
	defer p.Unlock()

	for target, idle := range p.conns {
		for _, c := range idle {
			c.conn.Close()
		}
		delete(p.conns, target)
	}
}

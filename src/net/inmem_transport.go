package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a random UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport routes requests between transports of the same process, so
// that whole federations of sites can be tested without a network. Routes are
// set up explicitly with Connect.
type InmemTransport struct {
	sync.RWMutex
	addr    string
	inbox   chan RPC
	routes  map[string]*InmemTransport
	timeout time.Duration
	closed  bool
}

// NewInmemTransport creates a transport listening on addr, or on a random
// address if addr is empty. It returns the address actually used.
func NewInmemTransport(addr string, timeout time.Duration) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	return addr, &InmemTransport{
		addr:    addr,
		inbox:   make(chan RPC, 16),
		routes:  make(map[string]*InmemTransport),
		timeout: timeout,
	}
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.inbox
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.addr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.addr
}

// Listen implements the Transport interface. Requests are delivered as soon
// as a route exists, there is nothing to start.
func (i *InmemTransport) Listen() {}

// Pull implements the Transport interface.
func (i *InmemTransport) Pull(target string, args *PullRequest, resp *PullResponse) error {
	out, err := i.request(target, args)
	if err != nil {
		return err
	}
	r, ok := out.(*PullResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", out)
	}
	*resp = *r
	return nil
}

// Push implements the Transport interface.
func (i *InmemTransport) Push(target string, args *PushRequest, resp *PushResponse) error {
	out, err := i.request(target, args)
	if err != nil {
		return err
	}
	r, ok := out.(*PushResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", out)
	}
	*resp = *r
	return nil
}

// request delivers cmd to the consumer of target and waits for its answer.
// The timeout covers both the delivery and the answer.
func (i *InmemTransport) request(target string, cmd interface{}) (interface{}, error) {
	i.RLock()
	closed := i.closed
	dest, ok := i.routes[target]
	i.RUnlock()

	if closed {
		return nil, ErrTransportShutdown
	}
	if !ok {
		return nil, fmt.Errorf("no route to %s", target)
	}

	deadline := time.NewTimer(i.timeout)
	defer deadline.Stop()

	respCh := make(chan RPCResponse, 1)

	select {
	case dest.inbox <- RPC{Command: cmd, RespChan: respCh}:
	case <-deadline.C:
		return nil, fmt.Errorf("request to %s timed out", target)
	}

	select {
	case resp := <-respCh:
		return resp.Response, resp.Error
	case <-deadline.C:
		return nil, fmt.Errorf("response from %s timed out", target)
	}
}

// Connect routes the requests for addr to t, which must be an
// InmemTransport.
func (i *InmemTransport) Connect(addr string, t Transport) {
	i.Lock()
	defer i.Unlock()
	i.routes[addr] = t.(*InmemTransport)
}

// Disconnect removes the route to addr.
func (i *InmemTransport) Disconnect(addr string) {
	i.Lock()
	defer i.Unlock()
	delete(i.routes, addr)
}

// DisconnectAll removes every route.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.routes = make(map[string]*InmemTransport)
}

// Close drops every route and fails further requests with
// ErrTransportShutdown.
func (i *InmemTransport) Close() error {
	i.Lock()
	defer i.Unlock()
	i.routes = make(map[string]*InmemTransport)
	i.closed = true
	return nil
}

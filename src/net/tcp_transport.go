package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// StreamLayer carries the connections of a NetworkTransport.
type StreamLayer interface {
	net.Listener

	// Dial opens a connection to another site.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address other sites dial to reach this one.
	AdvertiseAddr() string
}

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (c net.Conn, err error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}

// NewTCPTransport binds bindAddr and returns a NetworkTransport over plain
// TCP. Other sites are told to dial advertiseAddr, or the bound address if
// advertiseAddr is empty; either must be a concrete TCP address.
func NewTCPTransport(
	bindAddr string,
	advertiseAddr string,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	if err := checkAdvertise(list.Addr(), advertiseAddr); err != nil {
		list.Close()
		return nil, err
	}

	stream := &TCPStreamLayer{
		advertise: advertiseAddr,
		listener:  list.(*net.TCPListener),
	}

	return NewNetworkTransport(stream, maxPool, timeout, logger), nil
}

func checkAdvertise(bound net.Addr, advertiseAddr string) error {
	addr := bound
	if advertiseAddr != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertiseAddr)
		if err != nil {
			return err
		}
		addr = resolved
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return errNotTCP
	}
	if tcpAddr.IP.IsUnspecified() {
		return errNotAdvertisable
	}
	return nil
}

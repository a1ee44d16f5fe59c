package net

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrPeerUnreachable is matched by every PeerError.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// PeerError reports a failed exchange with a site: it could not be dialed,
// timed out, or answered with an error.
type PeerError struct {
	SiteID int
	Addr   string
	Op     string
	Err    error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s site %d (%s): %v", e.Op, e.SiteID, e.Addr, e.Err)
}

// Unwrap ...
func (e *PeerError) Unwrap() error {
	return e.Err
}

// Is ...
func (e *PeerError) Is(target error) bool {
	return target == ErrPeerUnreachable
}

// EncodeError reports a request the local codec could not encode. The
// request never left the site, so it does not match ErrPeerUnreachable.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding request: %v", e.Err)
}

// Unwrap ...
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ParseBaseURL returns the transport address of a site base URL.
func ParseBaseURL(baseURL string) (string, error) {
	addr := strings.TrimSuffix(strings.TrimPrefix(baseURL, "tcp://"), "/")
	if addr == "" {
		return "", fmt.Errorf("empty base url")
	}
	if strings.Contains(addr, "://") {
		return "", fmt.Errorf("unsupported base url %q", baseURL)
	}
	return addr, nil
}

package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a node: Idle, Synchronizing or Shutdown.
type State uint32

const (
	// Idle answers RPCs and waits for the next synchronization.
	Idle State = iota
	// Synchronizing is running a synchronization.
	Synchronizing
	// Shutdown is shut down.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Synchronizing:
		return "Synchronizing"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// goFunc starts f in a goroutine tracked by the waitgroup. Past WGLIMIT
// concurrent goroutines, f runs in the caller's goroutine.
func (b *state) goFunc(f func()) {
	b.wg.Add(1)
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
		return
	}
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}

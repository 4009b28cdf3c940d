package transport

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Assembler states. A receive walks Idle -> AwaitingHeader ->
// AccumulatingPayload -> back to Idle when the assembled response has been
// handed to the single waiter.
type assemblerState int

const (
	asmIdle assemblerState = iota
	asmAwaitingHeader
	asmAccumulating
)

type asmResult struct {
	data []byte
	err  error
}

// responseAssembler collects BLE notifications into one complete response.
// The first notification's first 4 bytes declare the total length; later
// notifications append until that length is met. Exactly one waiter may be
// registered at a time.
type responseAssembler struct {
	mu       sync.Mutex
	state    assemblerState
	declared int
	buf      []byte
	result   chan asmResult
}

func newResponseAssembler() *responseAssembler {
	return &responseAssembler{}
}

// begin registers the single waiter and returns the channel the assembled
// response will arrive on. It fails with ErrReceiveBusy if a receive is
// already pending.
func (a *responseAssembler) begin() (<-chan asmResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != asmIdle {
		return nil, ErrReceiveBusy
	}
	a.state = asmAwaitingHeader
	a.declared = 0
	a.buf = nil
	a.result = make(chan asmResult, 1)
	return a.result, nil
}

// abort drops the pending receive, e.g. after a caller timeout. Any bytes
// of the stale response that still trickle in are discarded in feed.
func (a *responseAssembler) abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

// fail rejects the pending receive, if any, with err. Used on unsolicited
// disconnect so no waiter hangs.
func (a *responseAssembler) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == asmIdle {
		return
	}
	a.result <- asmResult{err: err}
	a.reset()
}

// feed consumes one notification. Notifications arriving while no receive
// is pending belong to an aborted exchange and are dropped.
func (a *responseAssembler) feed(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case asmIdle:
		return

	case asmAwaitingHeader:
		if len(data) < 4 {
			a.result <- asmResult{err: fmt.Errorf("BLE: first notification of %d bytes cannot hold the length prefix", len(data))}
			a.reset()
			return
		}
		a.declared = int(binary.LittleEndian.Uint32(data[:4]))
		a.buf = make([]byte, 0, a.declared)
		a.buf = append(a.buf, data[4:]...)
		a.state = asmAccumulating

	case asmAccumulating:
		a.buf = append(a.buf, data...)
	}

	if len(a.buf) > a.declared {
		a.result <- asmResult{err: fmt.Errorf("BLE: accumulated %d bytes, response declared %d", len(a.buf), a.declared)}
		a.reset()
		return
	}
	if len(a.buf) == a.declared {
		a.result <- asmResult{data: a.buf}
		a.reset()
	}
}

// reset returns to Idle. Callers hold the mutex.
func (a *responseAssembler) reset() {
	a.state = asmIdle
	a.declared = 0
	a.buf = nil
	a.result = nil
}

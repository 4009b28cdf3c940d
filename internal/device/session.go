// Package device implements the protocol engine: a blocking request/response
// session over either transport, the initialization handshake, and the
// high-level command operations of the detector.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gammasense/gammalink/internal/protocol"
	"github.com/gammasense/gammalink/internal/transport"
)

// Session status values.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

const (
	// DefaultTimeout bounds one Execute call, send through verified
	// response.
	DefaultTimeout = 10 * time.Second

	// baseTimeLead is added to the host clock when the device-side time
	// register is reset; all relative telemetry timestamps resolve against
	// the resulting base time.
	baseTimeLead = 128 * time.Second
)

// ErrNotReady is returned for command operations before the initialization
// handshake has completed.
var ErrNotReady = errors.New("device: session not ready")

// Session drives the command/response protocol over one transport. All
// commands funnel through Execute, which enforces the one-command-at-a-time
// contract: the wire protocol has no multiplexing, so a second caller
// blocks until the first exchange finishes.
type Session struct {
	mu        sync.Mutex
	transport transport.Transport
	codec     *protocol.FrameCodec

	status   Status
	baseTime time.Time
	message  string

	timeout        time.Duration
	doseRateScale  float64
	spectrumFormat int
	debug          bool
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the per-Execute deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithDoseRateScale overrides the empirical dose-rate display multiplier.
func WithDoseRateScale(scale float64) Option {
	return func(s *Session) { s.doseRateScale = scale }
}

// WithSpectrumFormat selects the spectrum payload encoding reported by the
// device configuration.
func WithSpectrumFormat(format int) Option {
	return func(s *Session) { s.spectrumFormat = format }
}

// WithDebug enables protocol-level logging.
func WithDebug(debug bool) Option {
	return func(s *Session) { s.debug = debug }
}

// NewSession creates a session over an already-constructed transport. The
// transport need not be connected yet; Init connects and runs the
// handshake.
func NewSession(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		transport:      t,
		codec:          protocol.NewFrameCodec(),
		status:         StatusDisconnected,
		timeout:        DefaultTimeout,
		doseRateScale:  protocol.DefaultDoseRateScale,
		spectrumFormat: protocol.SPECTRUM_FORMAT_COMPRESSED,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the session lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TransportKind reports which physical channel the session uses.
func (s *Session) TransportKind() transport.Kind {
	return s.transport.Kind()
}

// BaseTime returns the host-side reference captured when the device clock
// was reset. Zero until the handshake has run.
func (s *Session) BaseTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseTime
}

// Message returns the device's free-text message read during the handshake,
// or "" if none is set.
func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Execute sends one command and blocks for its verified response, returning
// a reader positioned at the first payload byte after the header echo.
// Transport errors propagate unchanged; a HeaderMismatchError means the
// session is desynchronized and the caller should reconnect.
func (s *Session) Execute(ctx context.Context, command uint16, args []byte) (*protocol.ByteReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(ctx, command, args)
}

// execute is Execute without the lock; the handshake calls it while already
// serialized.
func (s *Session) execute(ctx context.Context, command uint16, args []byte) (*protocol.ByteReader, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	frame, header := s.codec.BuildRequest(command, args)
	if s.debug {
		log.Printf("device: > cmd 0x%04X seq 0x%02X args %d bytes", command, header[3], len(args))
	}

	if err := s.transport.Send(ctx, frame); err != nil {
		return nil, err
	}
	response, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if s.debug {
		log.Printf("device: < %d bytes", len(response))
	}
	return s.codec.VerifyResponse(response, header)
}

// Init connects the transport and runs the initialization handshake:
//
//  1. exchange capability negotiation
//  2. set the device wall clock
//  3. reset the device time register; base time = host now + lead
//  4. read the device text message
//
// Steps 1-3 are load-bearing (every later timestamp and command depends on
// them) and abort initialization on failure. Step 4 failing just means no
// message is set.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusReady {
		return nil
	}
	s.status = StatusConnecting

	if !s.transport.Connected() {
		if err := s.transport.Connect(ctx); err != nil {
			s.status = StatusDisconnected
			return err
		}
	}

	if _, err := s.execute(ctx, protocol.CMD_SET_EXCHANGE, protocol.ExchangePayload); err != nil {
		s.status = StatusDisconnected
		return fmt.Errorf("device: exchange negotiation: %w", err)
	}

	if err := s.setLocalTime(ctx, time.Now()); err != nil {
		s.status = StatusDisconnected
		return fmt.Errorf("device: set local time: %w", err)
	}

	now := time.Now()
	if err := s.writeVSFR(ctx, protocol.VSFR_DEVICE_TIME, 0); err != nil {
		s.status = StatusDisconnected
		return fmt.Errorf("device: reset device time: %w", err)
	}
	s.baseTime = now.Add(baseTimeLead)

	if msg, err := s.readVirtualString(ctx, protocol.VS_TEXT_MESSAGE); err != nil {
		// Non-fatal: an unset message register is normal.
		if s.debug {
			log.Printf("device: no text message: %v", err)
		}
	} else {
		s.message = msg
	}

	s.status = StatusReady
	if s.debug {
		log.Printf("device: session ready over %s, base time %s",
			s.transport.Kind(), s.baseTime.Format(time.RFC3339))
	}
	return nil
}

// setLocalTime writes the host wall clock to the device as the packed
// day/month/year-2000/0/second/minute/hour/0 structure.
func (s *Session) setLocalTime(ctx context.Context, t time.Time) error {
	args := []byte{
		byte(t.Day()),
		byte(t.Month()),
		byte(t.Year() - 2000),
		0,
		byte(t.Second()),
		byte(t.Minute()),
		byte(t.Hour()),
		0,
	}
	_, err := s.execute(ctx, protocol.CMD_SET_TIME, args)
	return err
}

// Close disconnects the transport. The session can be reused by calling
// Init again, which re-runs the handshake with a fresh base time.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDisconnected
	s.baseTime = time.Time{}
	return s.transport.Disconnect()
}

func (s *Session) readyLocked() error {
	if s.status != StatusReady {
		return ErrNotReady
	}
	return nil
}

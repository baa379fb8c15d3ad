// Package engine implements the protocol session with the remote rendering
// engine: connection state, the startup handshake, readiness probing and the
// demultiplexing of inbound status and node-lifecycle messages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/timeutil"
	"github.com/banshee-data/soundfield/internal/transport"
)

var (
	// ErrNotConnected is returned when an operation needs the query channel
	// and the session has none.
	ErrNotConnected = errors.New("engine: not connected")
	// ErrStartupTimeout is returned by WaitReady when no ready status arrived
	// in time. The session stays usable; control sends are dropped until a
	// later probe sees the engine ready.
	ErrStartupTimeout = errors.New("engine: startup timed out")
)

// Addresses used by the session.
const (
	AddrNotify          = "/notify"
	AddrStartServer     = "/startServer"
	AddrLoadSynth       = "/loadSynth"
	AddrLoadStereoSynth = "/loadStereoSynth"
	AddrStartup         = "/startup"
	AddrKillServer      = "/killServer"
	AddrStatus          = "/status"
	AddrStatusReply     = "/status.reply"
	AddrNodeEnd         = "/n_end"
	AddrNodeGo          = "/n_go"
)

// Node event kinds passed to Recorder.
const (
	NodeEnded   = "n_end"
	NodeStarted = "n_go"
)

// StartupDelays are the pauses after each handshake step.
type StartupDelays struct {
	AfterStartServer     time.Duration
	AfterLoadSynth       time.Duration
	AfterLoadStereoSynth time.Duration
}

// DefaultStartupDelays gives the engine time to boot and load synth
// definitions before the next step.
var DefaultStartupDelays = StartupDelays{
	AfterStartServer:     200 * time.Millisecond,
	AfterLoadSynth:       time.Second,
	AfterLoadStereoSynth: time.Second,
}

const (
	DefaultReceiveTimeout = time.Millisecond
	DefaultProbeInterval  = 100 * time.Millisecond
)

// Recorder persists session events. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordStatus(reply StatusReply) error
	RecordNodeEvent(kind string, nodeID int32) error
}

// Options configure a Session.
type Options struct {
	Clock          timeutil.Clock
	Delays         *StartupDelays
	ReceiveTimeout time.Duration
	ProbeInterval  time.Duration
	Recorder       Recorder
}

// Session owns the control and query channels to one engine.
type Session struct {
	clock          timeutil.Clock
	delays         StartupDelays
	receiveTimeout time.Duration
	probeInterval  time.Duration
	recorder       Recorder

	mu            sync.Mutex
	state         State
	control       transport.Conn
	query         transport.Conn
	status        Status
	notified      bool
	onNodeEnd     func(nodeID int32)
	onStateChange []func(State)

	// serialises receives on the query channel
	recvMu sync.Mutex

	subscriberMu sync.Mutex
	subscribers  map[string]chan TailEvent
}

// New creates a disconnected session.
func New(opts Options) *Session {
	s := &Session{
		clock:          opts.Clock,
		delays:         DefaultStartupDelays,
		receiveTimeout: opts.ReceiveTimeout,
		probeInterval:  opts.ProbeInterval,
		recorder:       opts.Recorder,
		subscribers:    make(map[string]chan TailEvent),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if opts.Delays != nil {
		s.delays = *opts.Delays
	}
	if s.receiveTimeout <= 0 {
		s.receiveTimeout = DefaultReceiveTimeout
	}
	if s.probeInterval <= 0 {
		s.probeInterval = DefaultProbeInterval
	}
	s.status.LastReply = NewStatusReply()
	return s
}

// OnNodeEnd sets the handler for /n_end notifications.
func (s *Session) OnNodeEnd(f func(nodeID int32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNodeEnd = f
}

// OnStateChange adds a handler called after every state transition.
func (s *Session) OnStateChange(f func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = append(s.onStateChange, f)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the engine status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.state
	st.Running = s.state == Ready
	st.StartingUp = s.state == Starting
	return st
}

// CanSend reports whether Send currently transmits.
func (s *Session) CanSend() bool {
	return s.State().canSend()
}

// setState must be called without s.mu held.
func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	handlers := slices.Clone(s.onStateChange)
	s.mu.Unlock()

	if prev == next {
		return
	}
	monitoring.Debugf("engine session %s -> %s", prev, next)
	for _, f := range handlers {
		f(next)
	}
}

// Connect adopts the two channels, which may be the same Conn, and subscribes
// to engine notifications on the query channel.
func (s *Session) Connect(control, query transport.Conn) error {
	if control == nil || query == nil {
		err := fmt.Errorf("%w: missing control or query channel", ErrNotConnected)
		monitoring.Logf("engine: connection error: %v", err)
		return err
	}

	s.mu.Lock()
	s.control, s.query = control, query
	s.notified = false
	s.mu.Unlock()

	if err := s.sendQuery(osc.NewMessage(AddrNotify).Int32(1)); err != nil {
		monitoring.Logf("engine: failed to subscribe to notifications: %v", err)
	}
	s.setState(Connected)
	return nil
}

// Close releases both channels and ends every tail subscription.
func (s *Session) Close() error {
	s.mu.Lock()
	control, query := s.control, s.query
	s.control, s.query = nil, nil
	s.mu.Unlock()
	s.setState(Disconnected)

	var errs []error
	if control != nil {
		errs = append(errs, control.Close())
	}
	if query != nil && query != control {
		errs = append(errs, query.Close())
	}

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return errors.Join(errs...)
}

// Send transmits a control message wrapped in a bundle. Outside the Starting
// and Ready states the message is dropped and nil returned.
func (s *Session) Send(msg *osc.Message) error {
	s.mu.Lock()
	state, control := s.state, s.control
	s.mu.Unlock()

	if !state.canSend() || control == nil {
		return nil
	}
	pkt, err := osc.EncodeBundle(msg)
	if err != nil {
		return err
	}
	s.publish(TailEvent{Direction: Outbound, Message: *msg})
	if err := control.Send(pkt); err != nil {
		return fmt.Errorf("send %s: %w", msg.Address, err)
	}
	return nil
}

func (s *Session) sendQuery(msg *osc.Message) error {
	s.mu.Lock()
	query := s.query
	s.mu.Unlock()
	if query == nil {
		return ErrNotConnected
	}
	pkt, err := osc.EncodeBundle(msg)
	if err != nil {
		return err
	}
	s.publish(TailEvent{Direction: Outbound, Message: *msg})
	return query.Send(pkt)
}

// sendStep is a handshake send. Failures are logged and the sequence continues.
func (s *Session) sendStep(addr string) {
	if err := s.Send(osc.NewMessage(addr)); err != nil {
		monitoring.Logf("engine: %s: %v", addr, err)
	}
}

// StartServer runs the startup handshake: /startServer, /loadSynth,
// /loadStereoSynth and /startup, each followed by its fixed delay. It blocks
// for the whole sequence. Cancelling ctx abandons the remaining steps.
func (s *Session) StartServer(ctx context.Context) error {
	prev := s.State()
	if prev == Disconnected {
		return ErrNotConnected
	}
	s.setState(Starting)
	defer func() {
		// a probe may have seen the engine ready meanwhile
		if s.State() == Starting {
			if prev == Ready {
				s.setState(Ready)
			} else {
				s.setState(Connected)
			}
		}
	}()

	steps := []struct {
		addr  string
		delay time.Duration
	}{
		{AddrStartServer, s.delays.AfterStartServer},
		{AddrLoadSynth, s.delays.AfterLoadSynth},
		{AddrLoadStereoSynth, s.delays.AfterLoadStereoSynth},
		{AddrStartup, 0},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sendStep(step.addr)
		if step.delay > 0 {
			s.clock.Sleep(step.delay)
		}
	}
	monitoring.Logf("engine: startup sequence sent")
	return nil
}

// KillServer asks the engine to shut down. It is never sent implicitly.
func (s *Session) KillServer() error {
	err := s.Send(osc.NewMessage(AddrKillServer))
	s.mu.Lock()
	s.notified = false
	s.mu.Unlock()
	if s.State() == Ready {
		s.setState(Connected)
	}
	return err
}

// QueryStatus sends /status on the query channel, waits once for a packet
// and handles whatever arrived. It reports whether the engine is ready.
func (s *Session) QueryStatus() bool {
	if err := s.sendQuery(osc.NewMessage(AddrStatus)); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			monitoring.Logf("engine: status query failed: %v", err)
		}
		return false
	}
	s.receiveOnce()
	return s.State() == Ready
}

// WaitReady probes the engine every probe interval until it reports ready or
// timeout elapses.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	if s.State() == Disconnected {
		return ErrNotConnected
	}
	if timeutil.WaitUntil(ctx, s.clock, timeout, s.probeInterval, s.QueryStatus) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrStartupTimeout
}

// Poll performs one bounded receive on the query channel and handles the
// packet if one arrived.
func (s *Session) Poll() error {
	s.mu.Lock()
	connected := s.query != nil
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return s.receiveOnce()
}

func (s *Session) receiveOnce() error {
	s.mu.Lock()
	query := s.query
	s.mu.Unlock()
	if query == nil {
		return ErrNotConnected
	}

	s.recvMu.Lock()
	pkt, err := query.Receive(s.receiveTimeout)
	s.recvMu.Unlock()
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}
		monitoring.Debugf("engine: receive: %v", err)
		return err
	}
	s.HandlePacket(pkt)
	return nil
}

// HandlePacket decodes one inbound packet and dispatches each message by
// address. Undecodable parts are skipped.
func (s *Session) HandlePacket(pkt []byte) {
	msgs, err := osc.ParsePacket(pkt)
	if err != nil {
		monitoring.Debugf("engine: partially decoded packet: %v", err)
	}
	for _, m := range msgs {
		s.publish(TailEvent{Direction: Inbound, Message: m})
		switch m.Address {
		case AddrStatusReply:
			s.handleStatusReply(m)
		case AddrNodeEnd:
			s.handleNodeEvent(NodeEnded, m)
		case AddrNodeGo:
			s.handleNodeEvent(NodeStarted, m)
		default:
			monitoring.Debugf("engine: ignoring %s", m.Address)
		}
	}
}

func (s *Session) handleStatusReply(m osc.Message) {
	reply := DecodeStatusReply(m)

	s.mu.Lock()
	s.status.LastReply = reply
	s.status.RepliedAt = s.clock.Now()
	s.status.Replies++
	becomeReady := reply.Ready() && s.state != Ready && s.state != Disconnected
	subscribe := reply.Ready() && !s.notified
	if subscribe {
		s.notified = true
	}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.RecordStatus(reply); err != nil {
			monitoring.Logf("journal: record status: %v", err)
		}
	}
	if subscribe {
		if err := s.sendQuery(osc.NewMessage(AddrNotify).Int32(1)); err != nil {
			monitoring.Logf("engine: failed to subscribe to notifications: %v", err)
		}
	}
	if becomeReady {
		monitoring.Logf("engine: engine ready (%d synth definitions loaded)", reply.LoadedSynths)
		s.setState(Ready)
	}
}

func (s *Session) handleNodeEvent(kind string, m osc.Message) {
	nodeID := int32(Unset)
	for _, a := range m.Args {
		if a.Tag == osc.TagInt32 {
			nodeID = a.Int32
			break
		}
	}
	if nodeID == Unset {
		monitoring.Debugf("engine: %s without a node id", m.Address)
		return
	}

	if s.recorder != nil {
		if err := s.recorder.RecordNodeEvent(kind, nodeID); err != nil {
			monitoring.Logf("journal: record node event: %v", err)
		}
	}
	if kind != NodeEnded {
		return
	}

	s.mu.Lock()
	s.status.NodeEnds++
	handler := s.onNodeEnd
	s.mu.Unlock()

	monitoring.Debugf("engine: received /n_end Removed node %d", nodeID)
	if handler != nil {
		handler(nodeID)
	}
}

// Direction of a tailed message.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// TailEvent is a message seen by the session, for live debugging.
type TailEvent struct {
	Direction Direction
	Message   osc.Message
}

// Subscribe returns a channel of tail events. Slow subscribers miss events.
func (s *Session) Subscribe() (string, chan TailEvent) {
	id := uuid.NewString()
	ch := make(chan TailEvent, 32)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (s *Session) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) publish(ev TailEvent) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

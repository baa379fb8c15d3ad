package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/registry"
	"github.com/banshee-data/soundfield/internal/timeutil"
	"github.com/banshee-data/soundfield/internal/transport"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakeEngine holds the far ends of the session's pipes.
type fakeEngine struct {
	control *transport.PipeConn
	query   *transport.PipeConn
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeEngine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if opts.Clock == nil {
		opts.Clock = clock
	}
	s := New(opts)

	ctrlLocal, ctrlRemote := transport.Pipe()
	queryLocal, queryRemote := transport.Pipe()
	require.NoError(t, s.Connect(ctrlLocal, queryLocal))
	t.Cleanup(func() { s.Close() })

	eng := &fakeEngine{control: ctrlRemote, query: queryRemote}
	// discard the /notify sent on connect
	eng.expect(t, eng.query, AddrNotify)
	return s, eng, clock
}

func (e *fakeEngine) recv(t *testing.T, c transport.Conn) []osc.Message {
	t.Helper()
	pkt, err := c.Receive(time.Second)
	require.NoError(t, err)
	msgs, err := osc.ParsePacket(pkt)
	require.NoError(t, err)
	return msgs
}

func (e *fakeEngine) expect(t *testing.T, c transport.Conn, addr string) osc.Message {
	t.Helper()
	msgs := e.recv(t, c)
	require.Len(t, msgs, 1)
	require.Equal(t, addr, msgs[0].Address)
	return msgs[0]
}

func (e *fakeEngine) expectNothing(t *testing.T, c transport.Conn) {
	t.Helper()
	pkt, err := c.Receive(5 * time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		msgs, _ := osc.ParsePacket(pkt)
		t.Fatalf("expected no packet, got %+v (err %v)", msgs, err)
	}
}

func (e *fakeEngine) reply(t *testing.T, msgs ...*osc.Message) {
	t.Helper()
	pkt, err := osc.EncodeBundle(msgs...)
	require.NoError(t, err)
	require.NoError(t, e.query.Send(pkt))
}

func statusReply(loaded int32) *osc.Message {
	return osc.NewMessage(AddrStatusReply).
		Int32(5).Int32(3).Int32(1).Int32(loaded).
		Float32(0.1).Float32(0.4).
		Double(44100.0).Double(44099.8)
}

func TestDecodeStatusReply(t *testing.T) {
	msgs, err := osc.ParsePacket(mustEncode(t, statusReply(2)))
	require.NoError(t, err)

	got := DecodeStatusReply(msgs[0])
	want := StatusReply{
		UnitGenerators:    5,
		Synths:            3,
		Groups:            1,
		LoadedSynths:      2,
		AvgCPU:            0.1,
		PeakCPU:           0.4,
		NominalSampleRate: 44100.0,
		ActualSampleRate:  44099.8,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeStatusReply mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got.Ready())
}

func TestStatusDecoder_FillOrder(t *testing.T) {
	tests := []struct {
		name string
		args []osc.Arg
		want StatusReply
	}{
		{
			name: "types interleaved",
			args: []osc.Arg{osc.Double(48000), osc.Int32(9), osc.Float32(1.5), osc.String("x"), osc.Int32(8)},
			want: func() StatusReply {
				r := NewStatusReply()
				r.NominalSampleRate = 48000
				r.UnitGenerators = 9
				r.Synths = 8
				r.AvgCPU = 1.5
				return r
			}(),
		},
		{
			name: "surplus values ignored",
			args: []osc.Arg{osc.Int32(1), osc.Int32(2), osc.Int32(3), osc.Int32(4), osc.Int32(5), osc.Float32(1), osc.Float32(2), osc.Float32(3)},
			want: func() StatusReply {
				r := NewStatusReply()
				r.UnitGenerators, r.Synths, r.Groups, r.LoadedSynths = 1, 2, 3, 4
				r.AvgCPU, r.PeakCPU = 1, 2
				return r
			}(),
		},
		{
			name: "empty",
			want: NewStatusReply(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeStatusReply(osc.Message{Address: AddrStatusReply, Args: tt.args})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func mustEncode(t *testing.T, m *osc.Message) []byte {
	t.Helper()
	b, err := osc.Encode(m)
	require.NoError(t, err)
	return b
}

func TestConnect_MissingConn(t *testing.T) {
	s := New(Options{})
	err := s.Connect(nil, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, s.State())
	assert.NoError(t, s.Send(osc.NewMessage("/setVol").Int32(1).Float32(0.5)))
}

func TestConnect_SubscribesOnQueryChannel(t *testing.T) {
	s := New(Options{})
	ctrl, _ := transport.Pipe()
	query, queryRemote := transport.Pipe()
	require.NoError(t, s.Connect(ctrl, query))

	pkt, err := queryRemote.Receive(time.Second)
	require.NoError(t, err)
	msgs, err := osc.ParsePacket(pkt)
	require.NoError(t, err)
	want := []osc.Message{{Address: AddrNotify, Args: []osc.Arg{osc.Int32(1)}}}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("connect packet (-want +got):\n%s", diff)
	}
	assert.Equal(t, Connected, s.State())
}

func TestSend_DroppedUntilReady(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})

	require.NoError(t, s.Send(osc.NewMessage("/setVol").Int32(1000).Float32(0.5)))
	eng.expectNothing(t, eng.control)

	eng.reply(t, statusReply(2))
	require.True(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)

	require.NoError(t, s.Send(osc.NewMessage("/setVol").Int32(1000).Float32(0.5)))
	m := eng.expect(t, eng.control, "/setVol")
	assert.Equal(t, int32(1000), m.Args[0].Int32)
}

func TestStartServer_OrderAndDelays(t *testing.T) {
	s, eng, clock := newTestSession(t, Options{})

	var states []State
	s.OnStateChange(func(st State) { states = append(states, st) })

	require.NoError(t, s.StartServer(context.Background()))

	for _, addr := range []string{AddrStartServer, AddrLoadSynth, AddrLoadStereoSynth, AddrStartup} {
		eng.expect(t, eng.control, addr)
	}
	assert.Equal(t, []time.Duration{200 * time.Millisecond, time.Second, time.Second}, clock.Sleeps())
	assert.Equal(t, []State{Starting, Connected}, states)
	assert.Equal(t, Connected, s.State())
}

func TestOnStateChange_HandlersSnapshotPerTransition(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	var first, late []State
	s.OnStateChange(func(st State) {
		first = append(first, st)
		if len(first) == 1 {
			s.OnStateChange(func(st State) { late = append(late, st) })
		}
	})

	require.NoError(t, s.StartServer(context.Background()))

	assert.Equal(t, []State{Starting, Connected}, first)
	assert.Equal(t, []State{Connected}, late, "a handler added during dispatch sees only later transitions")
}

func TestStartServer_CustomDelaysAndCancel(t *testing.T) {
	delays := StartupDelays{AfterStartServer: time.Millisecond}
	s, eng, clock := newTestSession(t, Options{Delays: &delays})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.StartServer(ctx), context.Canceled)
	eng.expectNothing(t, eng.control)
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.StartServer(context.Background()))
	assert.Equal(t, []time.Duration{time.Millisecond}, clock.Sleeps())
}

func TestStartServer_Disconnected(t *testing.T) {
	s := New(Options{})
	assert.ErrorIs(t, s.StartServer(context.Background()), ErrNotConnected)
}

func TestQueryStatus_ReadyNotifiesOnce(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})

	eng.reply(t, statusReply(0))
	assert.False(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)
	eng.expectNothing(t, eng.query)
	assert.Equal(t, Connected, s.State())

	eng.reply(t, statusReply(2))
	assert.True(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)
	eng.expect(t, eng.query, AddrNotify)

	eng.reply(t, statusReply(3))
	assert.True(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)
	eng.expectNothing(t, eng.query)

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, int32(3), st.LastReply.LoadedSynths)
	assert.Equal(t, 3, st.Replies)
}

func TestQueryStatus_NoReply(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})
	assert.False(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)
	assert.Equal(t, Unset, int(s.Status().LastReply.LoadedSynths))
}

func TestWaitReady_Timeout(t *testing.T) {
	s, _, clock := newTestSession(t, Options{})

	err := s.WaitReady(context.Background(), 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrStartupTimeout)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 5)
	for _, d := range sleeps {
		assert.Equal(t, DefaultProbeInterval, d)
	}
	// degraded but usable
	assert.Equal(t, Connected, s.State())
	assert.NoError(t, s.Send(osc.NewMessage("/setVol").Int32(1).Float32(0)))
}

func TestWaitReady_Succeeds(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		probes := 0
		for {
			pkt, err := eng.query.Receive(2 * time.Second)
			if err != nil {
				return
			}
			msgs, _ := osc.ParsePacket(pkt)
			if len(msgs) == 0 || msgs[0].Address != AddrStatus {
				continue
			}
			probes++
			loaded := int32(0)
			if probes >= 3 {
				loaded = 2
			}
			pkt, _ = osc.EncodeBundle(statusReply(loaded))
			eng.query.Send(pkt)
			if loaded > 0 {
				return
			}
		}
	}()

	require.NoError(t, s.WaitReady(context.Background(), 5*time.Second))
	assert.Equal(t, Ready, s.State())
	<-done
}

func TestWaitReady_Disconnected(t *testing.T) {
	s := New(Options{})
	assert.ErrorIs(t, s.WaitReady(context.Background(), time.Second), ErrNotConnected)
}

func TestNodeEnd_RemovesInstanceOnce(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})
	reg := registry.New()
	s.OnNodeEnd(func(nodeID int32) { reg.RemoveByNode(nodeID) })

	inst := reg.CreateInstance(nil, 1)
	inst.Playing = true
	stops := 0
	inst.OnStop(func(*registry.Instance) { stops++ })
	reg.RegisterInstance(inst)
	require.True(t, reg.BindNode(inst.ID, 7))

	for i := 0; i < 2; i++ {
		eng.reply(t, osc.NewMessage(AddrNodeEnd).Int32(7).Int32(1).Int32(-1))
		require.NoError(t, s.Poll())
	}

	assert.Equal(t, 1, stops)
	assert.False(t, inst.Playing)
	assert.Empty(t, reg.Instances())
	assert.Equal(t, 2, s.Status().NodeEnds)
}

func TestHandlePacket_Demultiplexes(t *testing.T) {
	rec := &recorder{}
	s, eng, _ := newTestSession(t, Options{Recorder: rec})

	var ended []int32
	s.OnNodeEnd(func(id int32) { ended = append(ended, id) })

	pkt, err := osc.EncodeBundle(
		osc.NewMessage(AddrNodeGo).Int32(1001),
		statusReply(2),
		osc.NewMessage(AddrNodeEnd).Int32(1000),
		osc.NewMessage("/done").Str("/b_allocRead"),
	)
	require.NoError(t, err)
	s.HandlePacket(pkt)

	assert.Equal(t, []int32{1000}, ended)
	assert.Equal(t, Ready, s.State())
	eng.expect(t, eng.query, AddrNotify)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"n_go:1001", "n_end:1000"}, rec.events)
	require.Len(t, rec.statuses, 1)
	assert.Equal(t, int32(2), rec.statuses[0].LoadedSynths)
}

func TestHandlePacket_Garbage(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	called := false
	s.OnNodeEnd(func(int32) { called = true })

	s.HandlePacket([]byte{0xde, 0xad, 0xbe, 0xef})
	s.HandlePacket(mustEncode(t, osc.NewMessage(AddrNodeEnd).Str("not an id")))
	assert.False(t, called)
	assert.Equal(t, Connected, s.State())
}

func TestKillServer(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})
	eng.reply(t, statusReply(1))
	require.True(t, s.QueryStatus())
	eng.expect(t, eng.query, AddrStatus)
	eng.expect(t, eng.query, AddrNotify)

	require.NoError(t, s.KillServer())
	eng.expect(t, eng.control, AddrKillServer)
	assert.Equal(t, Connected, s.State())
}

func TestSubscribe_Tail(t *testing.T) {
	s, eng, _ := newTestSession(t, Options{})
	id, ch := s.Subscribe()

	eng.reply(t, statusReply(1))
	s.QueryStatus()

	var addrs []string
	for len(addrs) < 3 {
		select {
		case ev := <-ch:
			addrs = append(addrs, string(ev.Direction)+" "+ev.Message.Address)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", addrs)
		}
	}
	assert.Equal(t, []string{"out /status", "in /status.reply", "out /notify"}, addrs)

	s.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	_, ch := s.Subscribe()
	require.NoError(t, s.Close())
	assert.Equal(t, Disconnected, s.State())
	assert.ErrorIs(t, s.Poll(), ErrNotConnected)
	_, ok := <-ch
	assert.False(t, ok)
}

type recorder struct {
	mu       sync.Mutex
	statuses []StatusReply
	events   []string
}

func (r *recorder) RecordStatus(reply StatusReply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, reply)
	return nil
}

func (r *recorder) RecordNodeEvent(kind string, nodeID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+itoa(nodeID))
	return nil
}

func itoa(v int32) string {
	return strconv.Itoa(int(v))
}

package main

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/soundfield/internal/engine"
	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/transport"
)

// devEngine stands in for the rendering engine in -dev mode. It reports
// ready once /startup has been received and ends a node for every /freeNode.
type devEngine struct {
	control transport.Conn
	query   transport.Conn
	started bool
	loaded  int32
}

func newDevEngine() (local [2]transport.Conn, dev *devEngine) {
	ctrlLocal, ctrlRemote := transport.Pipe()
	queryLocal, queryRemote := transport.Pipe()
	return [2]transport.Conn{ctrlLocal, queryLocal}, &devEngine{control: ctrlRemote, query: queryRemote}
}

func (d *devEngine) run(ctx context.Context) {
	for ctx.Err() == nil {
		d.step(d.control, 5*time.Millisecond)
		d.step(d.query, 5*time.Millisecond)
	}
}

func (d *devEngine) step(c transport.Conn, timeout time.Duration) {
	pkt, err := c.Receive(timeout)
	if err != nil {
		if !errors.Is(err, transport.ErrTimeout) {
			monitoring.Debugf("dev engine: %v", err)
		}
		return
	}
	msgs, _ := osc.ParsePacket(pkt)
	for _, m := range msgs {
		d.handle(m)
	}
}

func (d *devEngine) handle(m osc.Message) {
	switch m.Address {
	case engine.AddrLoadSynth, engine.AddrLoadStereoSynth:
		d.loaded++
	case engine.AddrStartup:
		d.started = true
	case engine.AddrStatus:
		loaded := int32(0)
		if d.started {
			loaded = d.loaded
		}
		d.reply(osc.NewMessage(engine.AddrStatusReply).
			Int32(0).Int32(0).Int32(1).Int32(loaded).
			Float32(0.5).Float32(1.0).
			Double(48000).Double(48000))
	case "/freeNode":
		if len(m.Args) > 0 {
			d.reply(osc.NewMessage(engine.AddrNodeEnd).Int32(m.Args[0].Int32))
		}
	}
}

func (d *devEngine) reply(m *osc.Message) {
	pkt, err := osc.EncodeBundle(m)
	if err != nil {
		return
	}
	if err := d.query.Send(pkt); err != nil {
		monitoring.Debugf("dev engine: %v", err)
	}
}

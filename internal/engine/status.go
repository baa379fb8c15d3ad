package engine

import (
	"time"

	"github.com/banshee-data/soundfield/internal/osc"
)

// Unset marks a status field that no reply has filled yet.
const Unset = -1

// StatusReply is one decoded /status.reply. Fields a reply did not carry keep
// the Unset sentinel.
type StatusReply struct {
	UnitGenerators    int32   `json:"unit_generators"`
	Synths            int32   `json:"synths"`
	Groups            int32   `json:"groups"`
	LoadedSynths      int32   `json:"loaded_synths"`
	AvgCPU            float32 `json:"avg_cpu"`
	PeakCPU           float32 `json:"peak_cpu"`
	NominalSampleRate float64 `json:"nominal_sample_rate"`
	ActualSampleRate  float64 `json:"actual_sample_rate"`
}

// NewStatusReply returns a record with every field unset.
func NewStatusReply() StatusReply {
	return StatusReply{
		UnitGenerators:    Unset,
		Synths:            Unset,
		Groups:            Unset,
		LoadedSynths:      Unset,
		AvgCPU:            Unset,
		PeakCPU:           Unset,
		NominalSampleRate: Unset,
		ActualSampleRate:  Unset,
	}
}

// StatusDecoder fills a StatusReply from type-tagged arguments. Each int32
// goes to the first unset int field in the order UnitGenerators, Synths,
// Groups, LoadedSynths; each float32 to AvgCPU then PeakCPU; each double to
// NominalSampleRate then ActualSampleRate. Other types and surplus values are
// skipped. This positional assignment is the engine's wire contract.
type StatusDecoder struct {
	reply StatusReply
}

// NewStatusDecoder starts a fresh record.
func NewStatusDecoder() *StatusDecoder {
	return &StatusDecoder{reply: NewStatusReply()}
}

// Feed assigns one argument.
func (d *StatusDecoder) Feed(a osc.Arg) {
	r := &d.reply
	switch a.Tag {
	case osc.TagInt32:
		for _, f := range []*int32{&r.UnitGenerators, &r.Synths, &r.Groups, &r.LoadedSynths} {
			if *f == Unset {
				*f = a.Int32
				return
			}
		}
	case osc.TagFloat32:
		for _, f := range []*float32{&r.AvgCPU, &r.PeakCPU} {
			if *f == Unset {
				*f = a.Float32
				return
			}
		}
	case osc.TagDouble:
		for _, f := range []*float64{&r.NominalSampleRate, &r.ActualSampleRate} {
			if *f == Unset {
				*f = a.Double
				return
			}
		}
	}
}

// Reply returns the record decoded so far.
func (d *StatusDecoder) Reply() StatusReply {
	return d.reply
}

// DecodeStatusReply decodes the arguments of a /status.reply message.
func DecodeStatusReply(m osc.Message) StatusReply {
	d := NewStatusDecoder()
	for _, a := range m.Args {
		d.Feed(a)
	}
	return d.Reply()
}

// Ready reports whether the reply shows loaded synth definitions.
func (r StatusReply) Ready() bool {
	return r.LoadedSynths > 0
}

// Status is the session's view of the engine.
type Status struct {
	State      State       `json:"state"`
	Running    bool        `json:"running"`
	StartingUp bool        `json:"starting_up"`
	LastReply  StatusReply `json:"last_reply"`
	RepliedAt  time.Time   `json:"replied_at,omitempty"`
	Replies    int         `json:"replies"`
	NodeEnds   int         `json:"node_ends"`
}

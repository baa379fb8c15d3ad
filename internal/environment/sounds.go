package environment

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/soundfield/internal/assets"
	"github.com/banshee-data/soundfield/internal/geometry"
	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/registry"
)

// ErrUnknownInstance is returned for operations on an instance that is not
// (or no longer) registered.
var ErrUnknownInstance = errors.New("environment: unknown instance")

// CreateSound registers a buffer for name without loading anything.
func (e *Environment) CreateSound(name string) *registry.Sound {
	return e.reg.CreateBuffer(name, "")
}

// Sound returns the current sound registered for name.
func (e *Environment) Sound(name string) (*registry.Sound, bool) {
	return e.reg.LookupByName(name)
}

// ReplaceSound points the existing name at s. It reports false when name
// was never registered.
func (e *Environment) ReplaceSound(name string, s *registry.Sound) bool {
	return e.reg.ReplaceSound(name, s)
}

// LoadSound registers a buffer for name, asks the engine to read path into
// it and waits the configured load time. A missing local file is logged and
// the load request is still sent.
func (e *Environment) LoadSound(ctx context.Context, name, path string) (*registry.Sound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := e.assets.Resolve(path)
	switch {
	case errors.Is(err, assets.ErrMissingAsset):
		monitoring.Warnf("Could not find sound file '%s'", path)
	case err != nil:
		return nil, fmt.Errorf("load sound %s: %w", name, err)
	}

	s := e.reg.CreateBuffer(name, full)
	e.send(osc.NewMessage("/loadBuffer").Int32(s.BufferID).Str(full))

	e.mu.Lock()
	wait := e.soundLoadWait
	e.mu.Unlock()
	if wait > 0 {
		e.clock.Sleep(wait)
	}
	return s, nil
}

// NewInstance allocates an instance of sound with the current volume scale.
func (e *Environment) NewInstance(sound *registry.Sound) *registry.Instance {
	e.mu.Lock()
	scale := e.volumeScale
	e.mu.Unlock()
	return e.reg.CreateInstance(sound, scale)
}

// Play starts a spatialised voice for inst. The engine node id is the
// instance id.
func (e *Environment) Play(inst *registry.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	local := geometry.WorldToLocal(inst.Position, e.listenerPos, e.listenerRot)
	e.send(osc.NewMessage("/play").
		Int32(inst.ID).
		Int32(inst.BufferID).
		Float(inst.Volume).
		Float(local.X).Float(local.Y).Float(local.Z).
		Float(inst.Width).
		Float(e.wetness).
		Float(e.roomSize).
		Bool(inst.Loop))
	e.startLocked(inst)
	e.updateInstanceLocked(inst)
}

// PlayStereo starts a non-spatialised stereo voice for inst.
func (e *Environment) PlayStereo(inst *registry.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst.Stereo = true
	e.send(osc.NewMessage("/playStereo").
		Int32(inst.ID).
		Int32(inst.BufferID).
		Float(inst.Volume).
		Bool(inst.Loop))
	e.startLocked(inst)
}

func (e *Environment) startLocked(inst *registry.Instance) {
	e.reg.Start(inst, inst.ID)
}

// Stop frees the voice and removes the instance. The stop callback runs once.
func (e *Environment) Stop(inst *registry.Instance) {
	e.mu.Lock()
	e.send(osc.NewMessage("/freeNode").Int32(inst.ID))
	e.mu.Unlock()
	e.reg.RemoveInstance(inst.ID)
}

func (e *Environment) mutateInstance(id int32, f func(*registry.Instance)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.reg.Instance(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	f(inst)
	if e.reg.IsPlaying(id) {
		e.updateInstanceLocked(inst)
	}
	return nil
}

// SetInstancePosition moves a registered instance in world space.
func (e *Environment) SetInstancePosition(id int32, p r3.Vec) error {
	return e.mutateInstance(id, func(inst *registry.Instance) { inst.Position = p })
}

// SetInstanceVolume sets the base volume of a registered instance.
func (e *Environment) SetInstanceVolume(id int32, v float64) error {
	return e.mutateInstance(id, func(inst *registry.Instance) { inst.Volume = v })
}

// SetInstanceWidth sets the base width of a registered instance.
func (e *Environment) SetInstanceWidth(id int32, w float64) error {
	return e.mutateInstance(id, func(inst *registry.Instance) { inst.Width = w })
}

// InstanceView is a copy of a registered instance with its derived control
// values.
type InstanceView struct {
	registry.Instance
	Spatial Spatial `json:"spatial"`
}

// Snapshot returns every registered instance with its derived values.
func (e *Environment) Snapshot() []InstanceView {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.reg.Snapshot()
	out := make([]InstanceView, 0, len(all))
	for i := range all {
		out = append(out, InstanceView{Instance: all[i], Spatial: e.spatialLocked(&all[i])})
	}
	return out
}

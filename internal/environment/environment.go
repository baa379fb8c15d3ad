// Package environment is the application-facing facade of the control layer.
// It holds the listener/user frame and the environment parameters, creates
// sounds and instances, and turns every pose or parameter change into control
// messages for the engine.
package environment

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/soundfield/internal/assets"
	"github.com/banshee-data/soundfield/internal/config"
	"github.com/banshee-data/soundfield/internal/geometry"
	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/registry"
	"github.com/banshee-data/soundfield/internal/timeutil"
)

// Session is the part of engine.Session the environment drives.
type Session interface {
	Send(msg *osc.Message) error
	Poll() error
	OnNodeEnd(func(nodeID int32))
}

// Options configure an Environment. Zero values take the defaults of
// config.DefaultSoundConfig.
type Options struct {
	Registry      *registry.Registry
	Assets        *assets.Resolver
	Clock         timeutil.Clock
	Radius        float64
	VolumeScale   *float64
	RoomSize      float64
	Wetness       float64
	ServerVolume  *int
	SoundLoadWait *time.Duration
}

// OptionsFromConfig maps the environment section of cfg.
func OptionsFromConfig(cfg *config.SoundConfig) Options {
	vs := cfg.GetVolumeScale()
	sv := cfg.GetServerVolume()
	wait := cfg.GetSoundLoadWait()
	return Options{
		Radius:        cfg.GetRadius(),
		VolumeScale:   &vs,
		RoomSize:      cfg.GetRoomSize(),
		Wetness:       cfg.GetWetness(),
		ServerVolume:  &sv,
		SoundLoadWait: &wait,
	}
}

// Environment is safe for concurrent use. Pose, parameters and instance
// fields are guarded by mu; playing state is owned by the registry, so
// node-ended events from the poll loop never touch mu.
type Environment struct {
	session Session
	reg     *registry.Registry
	assets  *assets.Resolver
	clock   timeutil.Clock

	mu            sync.Mutex
	listenerPos   r3.Vec
	listenerRot   quat.Number
	userPos       r3.Vec
	userRot       quat.Number
	radius        float64
	volumeScale   float64
	roomSize      float64
	wetness       float64
	serverVolume  int
	soundLoadWait time.Duration
}

// New builds an environment over session and routes the session's node-ended
// notifications to the registry.
func New(session Session, opts Options) *Environment {
	e := &Environment{
		session:       session,
		reg:           opts.Registry,
		assets:        opts.Assets,
		clock:         opts.Clock,
		listenerRot:   geometry.Identity,
		userRot:       geometry.Identity,
		radius:        opts.Radius,
		volumeScale:   config.DefaultVolumeScale,
		roomSize:      clampNonNegative(opts.RoomSize),
		wetness:       clampNonNegative(opts.Wetness),
		serverVolume:  config.DefaultServerVolume,
		soundLoadWait: time.Duration(config.DefaultSoundLoadWaitMs) * time.Millisecond,
	}
	if e.reg == nil {
		e.reg = registry.New()
	}
	if e.assets == nil {
		e.assets = assets.NewResolver(nil, nil)
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.radius <= 0 {
		e.radius = config.DefaultRadius
	}
	if opts.VolumeScale != nil {
		e.volumeScale = *opts.VolumeScale
	}
	if opts.ServerVolume != nil {
		e.serverVolume = config.ClampServerVolume(*opts.ServerVolume)
	}
	if opts.SoundLoadWait != nil {
		e.soundLoadWait = *opts.SoundLoadWait
	}

	session.OnNodeEnd(func(nodeID int32) {
		if inst, ok := e.reg.RemoveByNode(nodeID); ok {
			monitoring.Debugf("instance %d ended on the engine", inst.ID)
		}
	})
	return e
}

// Registry exposes the underlying registry.
func (e *Environment) Registry() *registry.Registry {
	return e.reg
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func (e *Environment) send(msg *osc.Message) {
	if err := e.session.Send(msg); err != nil {
		monitoring.Logf("environment: %v", err)
	}
}

// Frame is the listener and user pose.
type Frame struct {
	ListenerPosition    r3.Vec      `json:"listener_position"`
	ListenerOrientation quat.Number `json:"listener_orientation"`
	UserPosition        r3.Vec      `json:"user_position"`
	UserOrientation     quat.Number `json:"user_orientation"`
}

// Frame returns the current pose.
func (e *Environment) Frame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Frame{e.listenerPos, e.listenerRot, e.userPos, e.userRot}
}

func (e *Environment) SetListenerPosition(p r3.Vec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listenerPos = p
	e.recomputeLocked()
}

func (e *Environment) SetListenerOrientation(q quat.Number) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listenerRot = geometry.Normalize(q)
	e.recomputeLocked()
}

// SetListener updates position and orientation with a single recompute.
func (e *Environment) SetListener(p r3.Vec, q quat.Number) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listenerPos = p
	e.listenerRot = geometry.Normalize(q)
	e.recomputeLocked()
}

// SetUserPosition sets the tracked user position, which is already expressed
// in the listener frame.
func (e *Environment) SetUserPosition(p r3.Vec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userPos = p
	e.recomputeLocked()
}

func (e *Environment) SetUserOrientation(q quat.Number) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userRot = geometry.Normalize(q)
	e.recomputeLocked()
}

// Recompute resends the spatial parameters of every playing instance.
func (e *Environment) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputeLocked()
}

func (e *Environment) recomputeLocked() {
	for _, inst := range e.reg.PlayingInstances() {
		e.updateInstanceLocked(inst)
	}
}

// Spatial holds the derived control values of one instance.
type Spatial struct {
	Local         r3.Vec        `json:"local"`
	UserAzimuth   float64       `json:"user_azimuth"`
	UserMagnitude float64       `json:"user_magnitude"`
	Wall          geometry.Wall `json:"wall"`
	Azimuth       float64       `json:"azimuth"`
	Distance      float64       `json:"distance"`
	Volume        float64       `json:"volume"`
	Width         float64       `json:"width"`
}

func (e *Environment) spatialLocked(inst *registry.Instance) Spatial {
	local := geometry.WorldToLocal(inst.Position, e.listenerPos, e.listenerRot)
	user := e.userPos
	az, mag := geometry.UserAzimuthAndMagnitude(user)
	wall := geometry.ProjectToCylinderWall(local, user, e.radius)
	dist := geometry.Distance(user, local)

	vol := geometry.RolloffVolume(inst.Rolloff, dist, inst.MinRolloffDistance, inst.MaxDistance, inst.Volume)
	return Spatial{
		Local:         local,
		UserAzimuth:   az,
		UserMagnitude: mag,
		Wall:          wall,
		Azimuth:       wall.Azimuth(),
		Distance:      dist,
		Volume:        geometry.ScaleVolume(vol, inst.VolumeScale),
		Width:         geometry.Width(inst.Width, dist),
	}
}

// updateInstanceLocked sends, in order: object location, user location,
// speaker angle, volume, width.
func (e *Environment) updateInstanceLocked(inst *registry.Instance) {
	sp := e.spatialLocked(inst)
	id := inst.ID

	e.send(osc.NewMessage("/setObjectLoc").Int32(id).Float(sp.Local.X).Float(sp.Local.Y).Float(sp.Local.Z))
	e.send(osc.NewMessage("/setUserLoc").Int32(id).Float(sp.UserAzimuth).Float(sp.UserMagnitude))
	e.send(osc.NewMessage("/setPos").Int32(id).Float(sp.Azimuth))
	e.send(osc.NewMessage("/setVol").Int32(id).Float(sp.Volume))
	e.send(osc.NewMessage("/setWidth").Int32(id).Float(sp.Width))
}

// Params are the environment-wide parameters.
type Params struct {
	Radius       float64 `json:"radius"`
	VolumeScale  float64 `json:"volume_scale"`
	RoomSize     float64 `json:"room_size"`
	Wetness      float64 `json:"wetness"`
	ServerVolume int     `json:"server_volume"`
}

func (e *Environment) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Params{e.radius, e.volumeScale, e.roomSize, e.wetness, e.serverVolume}
}

// SetRoomSize updates the reverb room size (clamped at zero) on every
// registered instance.
func (e *Environment) SetRoomSize(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roomSize = clampNonNegative(v)
	e.pushReverbLocked()
}

// SetWetness updates the reverb mix (clamped at zero) on every registered
// instance.
func (e *Environment) SetWetness(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wetness = clampNonNegative(v)
	e.pushReverbLocked()
}

func (e *Environment) pushReverbLocked() {
	for _, inst := range e.reg.Instances() {
		e.send(osc.NewMessage("/setReverb").Int32(inst.ID).Float(e.wetness).Float(e.roomSize))
	}
}

// SetVolumeScale sets the scale given to instances created from now on.
func (e *Environment) SetVolumeScale(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumeScale = v
}

// SetServerVolume clamps v to the engine's range and sends it.
func (e *Environment) SetServerVolume(v int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serverVolume = config.ClampServerVolume(v)
	e.send(osc.NewMessage("/serverVol").Int32(int32(e.serverVolume)))
}

// SetSoundLoadWait sets the pause after each buffer load request.
func (e *Environment) SetSoundLoadWait(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.soundLoadWait = d
}

// StopAllSounds frees every instance's node and forgets the instances. Stop
// callbacks may call back into the environment.
func (e *Environment) StopAllSounds() {
	all := e.reg.ClearInstances()
	monitoring.Debugf("Freeing %d nodes...", len(all))
	for _, inst := range all {
		e.send(osc.NewMessage("/freeNode").Int32(inst.ID))
	}
}

// CleanupAllSounds frees every buffer and forgets the sounds.
func (e *Environment) CleanupAllSounds() {
	all := e.reg.ClearBuffers()
	monitoring.Debugf("Freeing %d buffers...", len(all))
	for _, s := range all {
		e.send(osc.NewMessage("/freeBuf").Int32(s.BufferID))
	}
}

// SetAssetDirectory, SetAssetCacheEnabled and SetForceCacheOverwrite
// configure how LoadSound resolves files.
func (e *Environment) SetAssetDirectory(dir string)   { e.assets.SetAssetDirectory(dir) }
func (e *Environment) SetAssetCacheEnabled(v bool)    { e.assets.SetCacheEnabled(v) }
func (e *Environment) SetForceCacheOverwrite(v bool)  { e.assets.SetForceOverwrite(v) }
func (e *Environment) AssetDirectory() (string, bool) { return e.assets.AssetDirectory() }

// Tick reads at most one pending packet from the engine.
func (e *Environment) Tick() error {
	return e.session.Poll()
}

// Run ticks every interval until ctx is cancelled.
func (e *Environment) Run(ctx context.Context, interval time.Duration) error {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := e.Tick(); err != nil {
				monitoring.Debugf("poll: %v", err)
			}
		}
	}
}

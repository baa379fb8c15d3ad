// Package registry owns the sound buffers and playing instances known to the
// control layer and correlates instances with the engine's node ids.
package registry

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/soundfield/internal/geometry"
	"github.com/banshee-data/soundfield/internal/monitoring"
)

// First ids handed out. Engine buffer numbers start at zero; node ids below
// 1000 are reserved by the engine for its own groups.
const (
	FirstBufferID   int32 = 0
	FirstInstanceID int32 = 1000
)

// Instance defaults applied by CreateInstance.
const (
	DefaultVolume             = 0.5
	DefaultWidth              = 2.0
	DefaultMinRolloffDistance = 1.0
	DefaultMaxDistance        = 500.0
	DefaultRolloff            = geometry.RolloffLinear
)

// Sound is a buffer loaded (or to be loaded) on the engine.
type Sound struct {
	BufferID   int32  `json:"buffer_id"`
	Name       string `json:"name"`
	SourcePath string `json:"source_path"`
}

// Instance is one voice playing a Sound. ID is assigned locally; NodeID is the
// engine's id for the voice and is only meaningful once bound.
type Instance struct {
	ID       int32 `json:"id"`
	BufferID int32 `json:"buffer_id"`

	Position           r3.Vec           `json:"position"`
	Volume             float64          `json:"volume"`
	VolumeScale        float64          `json:"volume_scale"`
	Rolloff            geometry.Rolloff `json:"rolloff"`
	MinRolloffDistance float64          `json:"min_rolloff_distance"`
	MaxDistance        float64          `json:"max_distance"`
	Width              float64          `json:"width"`
	Loop               bool             `json:"loop"`
	Stereo             bool             `json:"stereo"`

	Playing bool `json:"playing"`
	Done    bool `json:"done"`

	nodeID    int32
	nodeBound bool
	onStop    func(*Instance)
}

// NodeID returns the bound engine node id.
func (i *Instance) NodeID() (int32, bool) {
	return i.nodeID, i.nodeBound
}

// OnStop registers a callback run once when the instance stops.
func (i *Instance) OnStop(f func(*Instance)) {
	i.onStop = f
}

// Registry holds sounds and instances. All methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	nextBufferID   int32
	nextInstanceID int32

	buffers   map[int32]*Sound
	byName    map[string]int32
	instances map[int32]*Instance
	byNode    map[int32]int32
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nextBufferID:   FirstBufferID,
		nextInstanceID: FirstInstanceID,
		buffers:        make(map[int32]*Sound),
		byName:         make(map[string]int32),
		instances:      make(map[int32]*Instance),
		byNode:         make(map[int32]int32),
	}
}

// CreateBuffer assigns a new buffer id to name. If the name was already
// registered the old buffer stays in the table but is no longer reachable by
// name.
func (r *Registry) CreateBuffer(name, path string) *Sound {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Sound{BufferID: r.nextBufferID, Name: name, SourcePath: path}
	r.nextBufferID++
	r.indexLocked(s)
	monitoring.Debugf("Added buffer %d (%s)", s.BufferID, name)
	return s
}

func (r *Registry) indexLocked(s *Sound) {
	if old, ok := r.byName[s.Name]; ok && old != s.BufferID {
		monitoring.Logf("Replacing bufferID %d with bufferID %d for sound '%s'", old, s.BufferID, s.Name)
	}
	r.buffers[s.BufferID] = s
	r.byName[s.Name] = s.BufferID
}

// ReplaceSound points an existing name at s and reports whether it did. An
// unknown name is logged and ignored, as is a buffer id already held by a
// different sound.
func (r *Registry) ReplaceSound(name string, s *Sound) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		monitoring.Logf("sound '%s' does not exist", name)
		return false
	}
	if held, ok := r.buffers[s.BufferID]; ok && held != s {
		monitoring.Logf("bufferID %d already holds sound '%s', not replacing '%s'", s.BufferID, held.Name, name)
		return false
	}
	if _, ok := r.buffers[s.BufferID]; !ok {
		s.Name = name
		r.buffers[s.BufferID] = s
	}
	if old := r.byName[name]; old != s.BufferID {
		monitoring.Logf("Replacing bufferID %d with bufferID %d for sound '%s'", old, s.BufferID, name)
	}
	r.byName[name] = s.BufferID
	if s.BufferID >= r.nextBufferID {
		r.nextBufferID = s.BufferID + 1
	}
	return true
}

// LookupByName returns the sound currently mapped to name.
func (r *Registry) LookupByName(name string) (*Sound, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		monitoring.Logf("sound '%s' not found", name)
		return nil, false
	}
	return r.buffers[id], true
}

// LookupBuffer returns the sound with the given buffer id.
func (r *Registry) LookupBuffer(id int32) (*Sound, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.buffers[id]
	if !ok {
		monitoring.Logf("buffer %d not found", id)
	}
	return s, ok
}

// CreateInstance allocates an instance id for a new voice of sound. The
// instance is not registered until RegisterInstance.
func (r *Registry) CreateInstance(sound *Sound, volumeScale float64) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := &Instance{
		ID:                 r.nextInstanceID,
		Volume:             DefaultVolume,
		VolumeScale:        volumeScale,
		Rolloff:            DefaultRolloff,
		MinRolloffDistance: DefaultMinRolloffDistance,
		MaxDistance:        DefaultMaxDistance,
		Width:              DefaultWidth,
		BufferID:           -1,
	}
	if sound != nil {
		inst.BufferID = sound.BufferID
	}
	r.nextInstanceID++
	return inst
}

// RegisterInstance adds inst to the table.
func (r *Registry) RegisterInstance(inst *Instance) {
	if inst == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	if inst.nodeBound {
		r.byNode[inst.nodeID] = inst.ID
	}
	monitoring.Debugf("Added instance %d from buffer %d", inst.ID, inst.BufferID)
}

// BindNode records the engine node id for a registered instance.
func (r *Registry) BindNode(instanceID, nodeID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		monitoring.Logf("bind node %d: instance %d not registered", nodeID, instanceID)
		return false
	}
	if inst.nodeBound {
		delete(r.byNode, inst.nodeID)
	}
	inst.nodeID, inst.nodeBound = nodeID, true
	r.byNode[nodeID] = instanceID
	return true
}

// Start registers inst as playing and binds it to nodeID.
func (r *Registry) Start(inst *Instance, nodeID int32) {
	if inst == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst.Playing = true
	inst.Done = false
	r.instances[inst.ID] = inst
	if inst.nodeBound && r.byNode[inst.nodeID] == inst.ID {
		delete(r.byNode, inst.nodeID)
	}
	inst.nodeID, inst.nodeBound = nodeID, true
	r.byNode[nodeID] = inst.ID
	monitoring.Debugf("Started instance %d on node %d", inst.ID, nodeID)
}

// Instance returns a registered instance by local id.
func (r *Registry) Instance(id int32) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// IsPlaying reports whether id is registered and playing.
func (r *Registry) IsPlaying(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return ok && inst.Playing
}

// RemoveInstance drops a locally stopped instance. The stop callback runs if
// the instance was still playing.
func (r *Registry) RemoveInstance(id int32) (*Instance, bool) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	var cb func(*Instance)
	if ok {
		cb = r.removeLocked(inst)
	}
	r.mu.Unlock()

	if !ok {
		monitoring.Debugf("remove: instance %d not registered", id)
		return nil, false
	}
	notify(inst, cb)
	return inst, true
}

// RemoveByNode handles an engine node-ended event. Repeated events for the
// same node are ignored.
func (r *Registry) RemoveByNode(nodeID int32) (*Instance, bool) {
	r.mu.Lock()
	id, ok := r.byNode[nodeID]
	var inst *Instance
	var cb func(*Instance)
	if ok {
		inst = r.instances[id]
		cb = r.removeLocked(inst)
	}
	r.mu.Unlock()

	if !ok {
		monitoring.Debugf("node %d ended but no instance is bound to it", nodeID)
		return nil, false
	}
	notify(inst, cb)
	return inst, true
}

// removeLocked unlinks inst and marks it stopped. It returns the stop
// callback to run once the lock is released, or nil if inst already stopped.
func (r *Registry) removeLocked(inst *Instance) func(*Instance) {
	delete(r.instances, inst.ID)
	if inst.nodeBound && r.byNode[inst.nodeID] == inst.ID {
		delete(r.byNode, inst.nodeID)
	}
	if inst.Done {
		return nil
	}
	inst.Playing = false
	inst.Done = true
	if inst.onStop == nil {
		return func(*Instance) {}
	}
	return inst.onStop
}

// notify runs without the registry lock so callbacks may call back in.
func notify(inst *Instance, cb func(*Instance)) {
	if cb != nil {
		cb(inst)
	}
}

// Instances returns registered instances ordered by id.
func (r *Registry) Instances() []*Instance {
	r.mu.Lock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.Unlock()
	sortInstances(out)
	return out
}

// PlayingInstances returns the playing instances ordered by id.
func (r *Registry) PlayingInstances() []*Instance {
	r.mu.Lock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.Playing {
			out = append(out, inst)
		}
	}
	r.mu.Unlock()
	sortInstances(out)
	return out
}

// Snapshot returns copies of the registered instances ordered by id.
func (r *Registry) Snapshot() []Instance {
	r.mu.Lock()
	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, *inst)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortInstances(s []*Instance) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// Buffers returns all buffers, including superseded ones, ordered by id.
func (r *Registry) Buffers() []*Sound {
	r.mu.Lock()
	out := make([]*Sound, 0, len(r.buffers))
	for _, s := range r.buffers {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BufferID < out[j].BufferID })
	return out
}

// ClearInstances removes every instance and returns them. Stop callbacks
// are run.
func (r *Registry) ClearInstances() []*Instance {
	r.mu.Lock()
	all := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		all = append(all, inst)
	}
	sortInstances(all)
	cbs := make([]func(*Instance), len(all))
	for i, inst := range all {
		cbs[i] = r.removeLocked(inst)
	}
	r.byNode = make(map[int32]int32)
	r.mu.Unlock()
	for i, inst := range all {
		notify(inst, cbs[i])
	}
	return all
}

// ClearBuffers removes every buffer and name mapping and returns the buffers.
func (r *Registry) ClearBuffers() []*Sound {
	all := r.Buffers()
	r.mu.Lock()
	r.buffers = make(map[int32]*Sound)
	r.byName = make(map[string]int32)
	r.mu.Unlock()
	return all
}

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/soundfield/internal/geometry"
)

func TestCreateBuffer_IdsAndLookup(t *testing.T) {
	r := New()
	a := r.CreateBuffer("rain", "rain.wav")
	b := r.CreateBuffer("wind", "wind.wav")

	assert.Equal(t, FirstBufferID, a.BufferID)
	assert.Equal(t, FirstBufferID+1, b.BufferID)

	got, ok := r.LookupByName("wind")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.LookupByName("thunder")
	assert.False(t, ok)

	byID, ok := r.LookupBuffer(a.BufferID)
	require.True(t, ok)
	assert.Equal(t, "rain.wav", byID.SourcePath)
}

func TestCreateBuffer_SameNameOrphansOldBuffer(t *testing.T) {
	r := New()
	old := r.CreateBuffer("rain", "rain-v1.wav")
	cur := r.CreateBuffer("rain", "rain-v2.wav")

	got, ok := r.LookupByName("rain")
	require.True(t, ok)
	assert.Equal(t, cur.BufferID, got.BufferID)

	// the superseded buffer still exists by id
	_, ok = r.LookupBuffer(old.BufferID)
	assert.True(t, ok)
	assert.Len(t, r.Buffers(), 2)
}

func TestReplaceSound(t *testing.T) {
	r := New()
	r.CreateBuffer("rain", "rain.wav")
	require.True(t, r.ReplaceSound("rain", &Sound{BufferID: 40, SourcePath: "storm.wav"}))

	got, ok := r.LookupByName("rain")
	require.True(t, ok)
	assert.Equal(t, int32(40), got.BufferID)

	next := r.CreateBuffer("wind", "wind.wav")
	assert.Equal(t, int32(41), next.BufferID, "ids must not collide with replaced buffers")
}

func TestReplaceSound_UnknownName(t *testing.T) {
	r := New()
	assert.False(t, r.ReplaceSound("hail", &Sound{BufferID: 3, SourcePath: "hail.wav"}))

	_, ok := r.LookupByName("hail")
	assert.False(t, ok)
	_, ok = r.LookupBuffer(3)
	assert.False(t, ok, "an ignored replacement must not index the buffer")
}

func TestReplaceSound_KeepsExistingBuffer(t *testing.T) {
	r := New()
	rain := r.CreateBuffer("rain", "rain.wav")
	wind := r.CreateBuffer("wind", "wind.wav")

	assert.False(t, r.ReplaceSound("rain", &Sound{BufferID: wind.BufferID, SourcePath: "storm.wav"}))
	got, ok := r.LookupBuffer(wind.BufferID)
	require.True(t, ok)
	assert.Same(t, wind, got)
	got, _ = r.LookupByName("rain")
	assert.Same(t, rain, got)

	// a registered sound may take over another name
	require.True(t, r.ReplaceSound("rain", wind))
	got, _ = r.LookupByName("rain")
	assert.Same(t, wind, got)
	assert.Equal(t, "wind", wind.Name)
	got, _ = r.LookupByName("wind")
	assert.Same(t, wind, got)
}

func TestCreateInstance_Defaults(t *testing.T) {
	r := New()
	s := r.CreateBuffer("rain", "rain.wav")
	inst := r.CreateInstance(s, 0.5)

	assert.Equal(t, FirstInstanceID, inst.ID)
	assert.Equal(t, s.BufferID, inst.BufferID)
	assert.Equal(t, DefaultVolume, inst.Volume)
	assert.Equal(t, DefaultWidth, inst.Width)
	assert.Equal(t, geometry.RolloffLinear, inst.Rolloff)
	assert.Equal(t, 0.5, inst.VolumeScale)
	assert.False(t, inst.Playing)

	_, bound := inst.NodeID()
	assert.False(t, bound)

	// not registered until RegisterInstance
	_, ok := r.Instance(inst.ID)
	assert.False(t, ok)
}

func TestInstanceIDsNeverReused(t *testing.T) {
	r := New()
	s := r.CreateBuffer("rain", "rain.wav")
	first := r.CreateInstance(s, 1)
	r.RegisterInstance(first)
	r.RemoveInstance(first.ID)

	second := r.CreateInstance(s, 1)
	assert.Greater(t, second.ID, first.ID)
}

func TestRemoveByNode_StopsExactlyOnce(t *testing.T) {
	r := New()
	s := r.CreateBuffer("rain", "rain.wav")
	inst := r.CreateInstance(s, 1)
	inst.Playing = true

	stops := 0
	inst.OnStop(func(i *Instance) {
		stops++
		assert.False(t, i.Playing)
	})
	r.RegisterInstance(inst)
	require.True(t, r.BindNode(inst.ID, 7))

	removed, ok := r.RemoveByNode(7)
	require.True(t, ok)
	assert.Same(t, inst, removed)
	assert.True(t, inst.Done)

	_, ok = r.RemoveByNode(7)
	assert.False(t, ok, "second /n_end for the same node is ignored")
	assert.Equal(t, 1, stops)
	assert.Empty(t, r.Instances())
}

func TestRemoveInstance_ThenNodeEnd(t *testing.T) {
	r := New()
	inst := r.CreateInstance(nil, 1)
	r.RegisterInstance(inst)
	r.BindNode(inst.ID, inst.ID)

	stops := 0
	inst.OnStop(func(*Instance) { stops++ })

	_, ok := r.RemoveInstance(inst.ID)
	require.True(t, ok)
	_, ok = r.RemoveByNode(inst.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, stops)
}

func TestBindNode_Unregistered(t *testing.T) {
	r := New()
	assert.False(t, r.BindNode(1234, 1))
}

func TestBindNode_Rebind(t *testing.T) {
	r := New()
	inst := r.CreateInstance(nil, 1)
	r.RegisterInstance(inst)
	r.BindNode(inst.ID, 5)
	r.BindNode(inst.ID, 6)

	_, ok := r.RemoveByNode(5)
	assert.False(t, ok, "stale node id must not resolve")
	_, ok = r.RemoveByNode(6)
	assert.True(t, ok)
}

func TestInstances_Ordered(t *testing.T) {
	r := New()
	var ids []int32
	for i := 0; i < 5; i++ {
		inst := r.CreateInstance(nil, 1)
		ids = append(ids, inst.ID)
	}
	// register in reverse
	for i := len(ids) - 1; i >= 0; i-- {
		r.RegisterInstance(&Instance{ID: ids[i]})
	}
	var got []int32
	for _, inst := range r.Instances() {
		got = append(got, inst.ID)
	}
	assert.Equal(t, ids, got)
}

func TestClear(t *testing.T) {
	r := New()
	s := r.CreateBuffer("rain", "rain.wav")
	inst := r.CreateInstance(s, 1)
	inst.Playing = true
	r.RegisterInstance(inst)

	cleared := r.ClearInstances()
	assert.Len(t, cleared, 1)
	assert.True(t, inst.Done)
	assert.Empty(t, r.Instances())

	buffers := r.ClearBuffers()
	assert.Len(t, buffers, 1)
	_, ok := r.LookupByName("rain")
	assert.False(t, ok)
}

func TestStart_PlayingAndBound(t *testing.T) {
	r := New()
	a := r.CreateInstance(nil, 1)
	b := r.CreateInstance(nil, 1)
	r.Start(a, a.ID)
	r.RegisterInstance(b)

	assert.True(t, a.Playing)
	assert.True(t, r.IsPlaying(a.ID))
	assert.False(t, r.IsPlaying(b.ID))
	assert.False(t, r.IsPlaying(9999))

	playing := r.PlayingInstances()
	require.Len(t, playing, 1)
	assert.Same(t, a, playing[0])

	node, bound := a.NodeID()
	require.True(t, bound)
	assert.Equal(t, a.ID, node)

	_, ok := r.RemoveByNode(a.ID)
	assert.True(t, ok)
	assert.False(t, r.IsPlaying(a.ID))
	assert.Empty(t, r.PlayingInstances())
}

func TestStart_RestartAfterStop(t *testing.T) {
	r := New()
	inst := r.CreateInstance(nil, 1)
	stops := 0
	inst.OnStop(func(*Instance) { stops++ })

	r.Start(inst, 5)
	r.RemoveInstance(inst.ID)
	r.Start(inst, 6)
	assert.True(t, inst.Playing)
	assert.False(t, inst.Done)

	_, ok := r.RemoveByNode(5)
	assert.False(t, ok, "stale node id must not resolve")
	_, ok = r.RemoveByNode(6)
	assert.True(t, ok)
	assert.Equal(t, 2, stops)
}

func TestSnapshot_CopiesUnderLock(t *testing.T) {
	r := New()
	inst := r.CreateInstance(nil, 1)
	r.Start(inst, inst.ID)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	r.RemoveInstance(inst.ID)

	assert.True(t, snap[0].Playing)
	assert.True(t, inst.Done)
}

func TestRemoveByNode_ConcurrentWithReaders(t *testing.T) {
	r := New()
	var insts []*Instance
	for i := 0; i < 50; i++ {
		inst := r.CreateInstance(nil, 1)
		r.Start(inst, inst.ID)
		insts = append(insts, inst)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, inst := range insts {
			r.RemoveByNode(inst.ID)
		}
	}()
	for i := 0; i < 100; i++ {
		r.PlayingInstances()
		r.Snapshot()
		r.IsPlaying(insts[i%len(insts)].ID)
	}
	wg.Wait()

	assert.Empty(t, r.PlayingInstances())
}

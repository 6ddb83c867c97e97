package hwc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/hwc/kms"
)

// rejectFB returns a reject hook that fails with errno whenever the
// plane would scan out the given layer's framebuffer.
func rejectFB(layer *Layer, errno error) func(map[string]uint64) error {
	return func(props map[string]uint64) error {
		fbID, _ := layer.property("FB_ID")
		if props["FB_ID"] == fbID {
			return errno
		}
		return nil
	}
}

func requireConsistentPairing(t *testing.T, dev *Device) {
	t.Helper()
	for _, plane := range dev.Planes() {
		if plane.Layer() != nil {
			require.Same(t, plane, plane.Layer().Plane())
		}
	}
	for _, out := range dev.outputs {
		for _, layer := range out.layers {
			if layer.Plane() != nil {
				require.Same(t, layer, layer.Plane().Layer())
			}
		}
	}
}

// The reference scenario: two planes, two layers, the overlay plane
// can't take the second layer. The first layer wins the primary plane,
// the second stays unassigned, and the pass still succeeds.
func TestApplyScenarioTwoPlanes(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	overlay := mock.addPlane(11, kms.PlaneTypeOverlay)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer1 := mock.addTestLayer(out, 0, 0, 1920, 1080)
	layer2 := mock.addTestLayer(out, 100, 100, 640, 480)
	overlay.reject = rejectFB(layer2, unix.EINVAL)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))

	require.NotNil(t, layer1.Plane())
	assert.Equal(t, uint32(10), layer1.Plane().ID())
	assert.Nil(t, layer2.Plane(), "layer 2 must fall back to software composition")
	requireConsistentPairing(t, dev)
}

func TestApplyPairingUniqueness(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	mock.addPlane(11, kms.PlaneTypeOverlay)
	mock.addPlane(12, kms.PlaneTypeOverlay)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	for i := 0; i < 4; i++ {
		mock.addTestLayer(out, uint64(i*10), 0, 800, 600)
	}

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))
	requireConsistentPairing(t, dev)

	seen := make(map[*Plane]bool)
	for _, layer := range out.Layers() {
		if plane := layer.Plane(); plane != nil {
			assert.False(t, seen[plane], "plane %d paired twice", plane.ID())
			seen[plane] = true
		}
	}
}

func TestApplyDisablesEveryPlaneBeforeMatching(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	mock.addPlane(11, kms.PlaneTypeOverlay)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	mock.addTestLayer(out, 0, 0, 1920, 1080)

	req := kms.NewAtomicRequest()
	require.NoError(t, dev.Apply(req))

	// The pass starts with one disable (FB_ID = 0, CRTC_ID = 0) per
	// plane, before any enable write.
	writes := req.Props()
	require.GreaterOrEqual(t, len(writes), 4)
	disabled := make(map[uint32]int)
	for _, w := range writes[:4] {
		assert.Equal(t, uint64(0), w.Value)
		if mock.props[w.Property].Name == "FB_ID" {
			disabled[w.Object]++
		}
	}
	assert.Equal(t, map[uint32]int{10: 1, 11: 1}, disabled)
}

func TestApplyPriorityOrdering(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer1 := mock.addTestLayer(out, 0, 0, 1920, 1080)
	layer2 := mock.addTestLayer(out, 0, 0, 1920, 1080)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))

	require.NotNil(t, layer1.Plane(), "first layer gets first choice")
	assert.Nil(t, layer2.Plane())
}

func TestApplyRollsBackRejectedCandidate(t *testing.T) {
	mock := newMockDRM()
	plane := mock.addPlane(10, kms.PlaneTypePrimary)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer := mock.addTestLayer(out, 0, 0, 1920, 1080)
	plane.reject = rejectFB(layer, unix.ERANGE)

	req := kms.NewAtomicRequest()
	require.NoError(t, dev.Apply(req))

	assert.Nil(t, layer.Plane())

	// Only the disable writes survive: the rejected candidate's
	// writes were rolled back entry for entry.
	writes := req.Props()
	require.Len(t, writes, 2)
	for _, w := range writes {
		assert.Equal(t, uint32(10), w.Object)
		assert.Equal(t, uint64(0), w.Value)
	}
}

func TestApplyIdempotentRetry(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	overlay := mock.addPlane(11, kms.PlaneTypeOverlay)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer1 := mock.addTestLayer(out, 0, 0, 1920, 1080)
	layer2 := mock.addTestLayer(out, 10, 10, 320, 240)
	overlay.reject = rejectFB(layer1, unix.EINVAL)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))
	first1, first2 := layer1.Plane(), layer2.Plane()
	require.NotNil(t, first1)
	require.NotNil(t, first2)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))
	assert.Same(t, first1, layer1.Plane())
	assert.Same(t, first2, layer2.Plane())
}

func TestApplyFatalErrorShortCircuits(t *testing.T) {
	mock := newMockDRM()
	plane := mock.addPlane(10, kms.PlaneTypePrimary)
	mock.addPlane(11, kms.PlaneTypeOverlay)
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer1 := mock.addTestLayer(out, 0, 0, 1920, 1080)
	mock.addTestLayer(out, 0, 0, 640, 480)

	// Not one of the structurally-infeasible errnos: fatal.
	plane.reject = rejectFB(layer1, unix.EBUSY)

	err := dev.Apply(kms.NewAtomicRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBUSY)
	assert.Equal(t, 1, mock.testCommits,
		"no further plane trials after a fatal test error")
}

func TestApplySkipsHiddenLayers(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary, "alpha")
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	transparent := mock.addTestLayer(out, 0, 0, 1920, 1080)
	transparent.SetProperty("alpha", 0)
	noFB := out.AddLayer()
	visible := mock.addTestLayer(out, 0, 0, 1920, 1080)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))

	assert.Nil(t, transparent.Plane())
	assert.Nil(t, noFB.Plane())
	require.NotNil(t, visible.Plane())
	assert.Equal(t, 1, mock.testCommits, "hidden layers must not be tested")
}

func TestApplyTriesNextPlaneWhenPropertyMissing(t *testing.T) {
	mock := newMockDRM()
	// Registry order: primary first, then the overlay with "rotation".
	mock.addPlane(10, kms.PlaneTypePrimary)
	mock.addPlane(11, kms.PlaneTypeOverlay, "rotation")
	dev := newTestDevice(t, mock)

	out := dev.AddOutput(5)
	layer := mock.addTestLayer(out, 0, 0, 1920, 1080)
	layer.SetProperty("rotation", kms.Rotate90)

	require.NoError(t, dev.Apply(kms.NewAtomicRequest()))

	require.NotNil(t, layer.Plane())
	assert.Equal(t, uint32(11), layer.Plane().ID(),
		"only the rotation-capable plane can express the layer")
}

func TestApplyAcrossOutputs(t *testing.T) {
	mock := newMockDRM()
	mock.addPlane(10, kms.PlaneTypePrimary)
	mock.addPlane(11, kms.PlaneTypePrimary)
	dev := newTestDevice(t, mock)

	out1 := dev.AddOutput(5)
	out2 := dev.AddOutput(6)
	layer1 := mock.addTestLayer(out1, 0, 0, 1920, 1080)
	layer2 := mock.addTestLayer(out2, 0, 0, 1280, 720)

	req := kms.NewAtomicRequest()
	require.NoError(t, dev.Apply(req))

	require.NotNil(t, layer1.Plane())
	require.NotNil(t, layer2.Plane())
	assert.NotSame(t, layer1.Plane(), layer2.Plane())

	// Each enabled plane carries its own output's CRTC id.
	state := mock.decode(req)
	assert.Equal(t, uint64(5), state[layer1.Plane().ID()]["CRTC_ID"])
	assert.Equal(t, uint64(6), state[layer2.Plane().ID()]["CRTC_ID"])
}

package hwc

import (
	"fmt"

	"github.com/NeowayLabs/hwc/kms"
)

// mockDRM implements backend in-process so the allocator can be tested
// without a real device, in the spirit of a mocked libdrm. Each mock
// plane decides with its reject hook whether a test commit putting a
// given property set on it is feasible.
type mockDRM struct {
	planes     []*mockPlane
	props      map[uint32]*kms.PropertyInfo
	nextPropID uint32
	nextFbID   uint64

	planeResErr error
	planeErr    map[uint32]error
	propErr     map[uint32]error

	testCommits int
	realCommits int
	closed      int
}

type mockPlane struct {
	id            uint32
	possibleCRTCs uint32
	props         []mockProp

	// reject inspects the final property values a commit would apply
	// to this plane and returns the errno the kernel would produce,
	// or nil to accept. Only consulted for enabled planes.
	reject func(props map[string]uint64) error
}

type mockProp struct {
	name  string
	id    uint32
	value uint64
}

func newMockDRM() *mockDRM {
	return &mockDRM{
		props:      make(map[uint32]*kms.PropertyInfo),
		nextPropID: 100,
		nextFbID:   1000,
		planeErr:   make(map[uint32]error),
		propErr:    make(map[uint32]error),
	}
}

// standard settable properties every mock plane carries on top of
// type/FB_ID/CRTC_ID.
var geometryProps = []string{
	"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
	"SRC_X", "SRC_Y", "SRC_W", "SRC_H",
}

// addPlane registers a plane with the usual property set plus extra.
func (m *mockDRM) addPlane(id uint32, typ uint64, extra ...string) *mockPlane {
	plane := m.addRawPlane(id, "type", "FB_ID", "CRTC_ID")
	plane.setValue("type", typ)
	for _, name := range geometryProps {
		m.addProp(plane, name)
	}
	for _, name := range extra {
		m.addProp(plane, name)
	}
	return plane
}

// addRawPlane registers a plane with exactly the named properties.
func (m *mockDRM) addRawPlane(id uint32, names ...string) *mockPlane {
	plane := &mockPlane{id: id, possibleCRTCs: 0xff}
	m.planes = append(m.planes, plane)
	for _, name := range names {
		m.addProp(plane, name)
	}
	return plane
}

func (m *mockDRM) addProp(plane *mockPlane, name string) {
	id := m.nextPropID
	m.nextPropID++
	plane.props = append(plane.props, mockProp{name: name, id: id})
	m.props[id] = &kms.PropertyInfo{ID: id, Name: name}
}

func (m *mockDRM) newFbID() uint64 {
	m.nextFbID++
	return m.nextFbID
}

func (p *mockPlane) setValue(name string, value uint64) {
	for i := range p.props {
		if p.props[i].name == name {
			p.props[i].value = value
			return
		}
	}
	panic("mockPlane: no such property: " + name)
}

func (m *mockDRM) PlaneResources() ([]uint32, error) {
	if m.planeResErr != nil {
		return nil, m.planeResErr
	}
	ids := make([]uint32, len(m.planes))
	for i, p := range m.planes {
		ids[i] = p.id
	}
	return ids, nil
}

func (m *mockDRM) findPlane(id uint32) *mockPlane {
	for _, p := range m.planes {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (m *mockDRM) Plane(id uint32) (*kms.PlaneInfo, error) {
	if err := m.planeErr[id]; err != nil {
		return nil, err
	}
	plane := m.findPlane(id)
	if plane == nil {
		return nil, fmt.Errorf("mock: no plane %d", id)
	}
	return &kms.PlaneInfo{ID: plane.id, PossibleCrtcs: plane.possibleCRTCs}, nil
}

func (m *mockDRM) ObjectProperties(id uint32) (*kms.ObjectProperties, error) {
	plane := m.findPlane(id)
	if plane == nil {
		return nil, fmt.Errorf("mock: no plane %d", id)
	}
	props := &kms.ObjectProperties{}
	for _, p := range plane.props {
		props.IDs = append(props.IDs, p.id)
		props.Values = append(props.Values, p.value)
	}
	return props, nil
}

func (m *mockDRM) Property(id uint32) (*kms.PropertyInfo, error) {
	if err := m.propErr[id]; err != nil {
		return nil, err
	}
	info := m.props[id]
	if info == nil {
		return nil, fmt.Errorf("mock: no property %d", id)
	}
	return info, nil
}

// decode folds the request into per-plane final property values, the
// way the kernel would see them (last write wins).
func (m *mockDRM) decode(req *kms.AtomicRequest) map[uint32]map[string]uint64 {
	state := make(map[uint32]map[string]uint64)
	for _, w := range req.Props() {
		info := m.props[w.Property]
		if info == nil {
			continue
		}
		planeState := state[w.Object]
		if planeState == nil {
			planeState = make(map[string]uint64)
			state[w.Object] = planeState
		}
		planeState[info.Name] = w.Value
	}
	return state
}

func (m *mockDRM) Commit(req *kms.AtomicRequest, flags uint32) error {
	if flags&kms.AtomicTestOnly != 0 {
		m.testCommits++
	} else {
		m.realCommits++
	}

	state := m.decode(req)
	for _, plane := range m.planes {
		props := state[plane.id]
		if props == nil || props["FB_ID"] == 0 {
			continue // untouched or disabled
		}
		if plane.reject != nil {
			if err := plane.reject(props); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mockDRM) Close() error {
	m.closed++
	return nil
}

// addTestLayer builds a full-screen-style layer with a fresh fb id and
// the usual geometry properties.
func (m *mockDRM) addTestLayer(out *Output, x, y, width, height uint64) *Layer {
	layer := out.AddLayer()
	layer.SetProperty("FB_ID", m.newFbID())
	layer.SetProperty("CRTC_X", x)
	layer.SetProperty("CRTC_Y", y)
	layer.SetProperty("CRTC_W", width)
	layer.SetProperty("CRTC_H", height)
	layer.SetProperty("SRC_X", 0)
	layer.SetProperty("SRC_Y", 0)
	layer.SetProperty("SRC_W", width<<16)
	layer.SetProperty("SRC_H", height<<16)
	return layer
}

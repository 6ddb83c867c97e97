package kms

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/hwc/ioctl"
)

// Atomic commit flags.
const (
	PageFlipEvent = 0x01

	AtomicTestOnly     = 0x0100
	AtomicNonblock     = 0x0200
	AtomicAllowModeset = 0x0400
)

type sysAtomic struct {
	flags         uint32
	countObjs     uint32
	objsPtr       uintptr
	countPropsPtr uintptr
	propsPtr      uintptr
	propValuesPtr uintptr
	reserved      uint64
	userData      uint64
}

var (
	// DRM_IOWR(0xBC, struct drm_mode_atomic)
	IOCTLModeAtomic = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysAtomic{})), IOCTLBase, 0xBC)
)

// AtomicProp is a single property write queued in an AtomicRequest.
type AtomicProp struct {
	Object   uint32
	Property uint32
	Value    uint64
}

// AtomicRequest is an append-only log of property writes, committed in
// one transaction. Speculative writes are undone by recording the cursor
// before appending and rolling back with SetCursor.
//
// A request is not safe for concurrent use.
type AtomicRequest struct {
	props []AtomicProp
}

func NewAtomicRequest() *AtomicRequest {
	return &AtomicRequest{}
}

// Add appends one property write. Object and property ids must be
// non-zero.
func (req *AtomicRequest) Add(object, property uint32, value uint64) error {
	if object == 0 || property == 0 {
		return fmt.Errorf("kms: atomic add (object %d, property %d): %w",
			object, property, unix.EINVAL)
	}
	req.props = append(req.props, AtomicProp{object, property, value})
	return nil
}

// Cursor returns the current append position.
func (req *AtomicRequest) Cursor() int {
	return len(req.props)
}

// SetCursor discards every write appended after cursor. Cursors beyond
// the current length are ignored.
func (req *AtomicRequest) SetCursor(cursor int) {
	if cursor >= 0 && cursor < len(req.props) {
		req.props = req.props[:cursor]
	}
}

// Len returns the number of queued writes.
func (req *AtomicRequest) Len() int {
	return len(req.props)
}

// Props returns a snapshot of the queued writes.
func (req *AtomicRequest) Props() []AtomicProp {
	out := make([]AtomicProp, len(req.props))
	copy(out, req.props)
	return out
}

// marshal lays the queued writes out the way DRM_IOCTL_MODE_ATOMIC wants
// them: one entry per object in first-appearance order, each followed by
// its property writes. Duplicate writes to the same (object, property)
// collapse to the last queued value.
func (req *AtomicRequest) marshal() (objs, counts, props []uint32, values []uint64) {
	type objWrites struct {
		props  []uint32
		values []uint64
		index  map[uint32]int
	}

	var order []uint32
	byID := make(map[uint32]*objWrites)

	for _, p := range req.props {
		o := byID[p.Object]
		if o == nil {
			o = &objWrites{index: make(map[uint32]int)}
			byID[p.Object] = o
			order = append(order, p.Object)
		}
		if i, ok := o.index[p.Property]; ok {
			o.values[i] = p.Value
			continue
		}
		o.index[p.Property] = len(o.props)
		o.props = append(o.props, p.Property)
		o.values = append(o.values, p.Value)
	}

	for _, id := range order {
		o := byID[id]
		objs = append(objs, id)
		counts = append(counts, uint32(len(o.props)))
		props = append(props, o.props...)
		values = append(values, o.values...)
	}
	return objs, counts, props, values
}

// Commit submits the request. With AtomicTestOnly the kernel validates
// the configuration without applying it; EINVAL and ERANGE then mean the
// configuration is structurally infeasible.
func Commit(file *os.File, req *AtomicRequest, flags uint32) error {
	objs, counts, props, values := req.marshal()

	atomic := &sysAtomic{
		flags:     flags,
		countObjs: uint32(len(objs)),
	}
	if len(objs) > 0 {
		atomic.objsPtr = uintptr(unsafe.Pointer(&objs[0]))
		atomic.countPropsPtr = uintptr(unsafe.Pointer(&counts[0]))
		atomic.propsPtr = uintptr(unsafe.Pointer(&props[0]))
		atomic.propValuesPtr = uintptr(unsafe.Pointer(&values[0]))
	}

	// Errno is returned undecorated: callers classify EINVAL/ERANGE.
	return ioctl.Do(file.Fd(), uintptr(IOCTLModeAtomic),
		uintptr(unsafe.Pointer(atomic)))
}

package kms

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/hwc/ioctl"
)

// Mode-setting object types, for GetObjectProperties.
const (
	ObjectCrtc      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFB        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeeeee
	ObjectAny       = 0
)

// Values of the "type" plane property.
const (
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2
)

// Values of the "rotation" plane property (bitmask).
const (
	Rotate0   = 1 << 0
	Rotate90  = 1 << 1
	Rotate180 = 1 << 2
	Rotate270 = 1 << 3
)

type (
	sysGetPlaneRes struct {
		planeIDPtr  uintptr
		countPlanes uint32
	}

	sysGetPlane struct {
		planeID uint32

		crtcID uint32
		fbID   uint32

		possibleCrtcs uint32
		gammaSize     uint32

		countFormatTypes uint32
		formatTypePtr    uintptr
	}

	sysObjGetProperties struct {
		propsPtr      uintptr
		propValuesPtr uintptr
		countProps    uint32
		objID         uint32
		objType       uint32
	}

	sysGetProperty struct {
		valuesPtr   uintptr
		enumBlobPtr uintptr

		propID uint32
		flags  uint32
		name   [PropNameLen]uint8

		countValues    uint32
		countEnumBlobs uint32
	}

	// PlaneInfo describes one hardware plane.
	PlaneInfo struct {
		ID     uint32
		CrtcID uint32
		FbID   uint32

		// Bitmask of the CRTCs this plane may be attached to, indexed
		// by CRTC position in Resources.Crtcs.
		PossibleCrtcs uint32

		GammaSize uint32
		Formats   []uint32
	}

	// ObjectProperties holds the property ids of a mode-setting object
	// and their current values, in matching order.
	ObjectProperties struct {
		IDs    []uint32
		Values []uint64
	}

	// PropertyInfo describes one property, resolved from its id.
	PropertyInfo struct {
		ID    uint32
		Name  string
		Flags uint32
	}
)

var (
	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	IOCTLModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlaneRes{})), IOCTLBase, 0xB5)

	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	IOCTLModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), IOCTLBase, 0xB6)

	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	IOCTLModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), IOCTLBase, 0xB9)

	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	IOCTLModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), IOCTLBase, 0xAA)
)

// GetPlaneResources enumerates the plane ids of a device. Only planes
// visible to the client are returned; enable ClientCapUniversalPlanes
// first to also see primary and cursor planes.
func GetPlaneResources(file *os.File) ([]uint32, error) {
	res := &sysGetPlaneRes{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(res)))
	if err != nil {
		return nil, fmt.Errorf("kms: get plane resources: %w", err)
	}

	if res.countPlanes == 0 {
		return nil, nil
	}
	planes := make([]uint32, res.countPlanes)
	res.planeIDPtr = uintptr(unsafe.Pointer(&planes[0]))

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(res)))
	if err != nil {
		return nil, fmt.Errorf("kms: get plane resources: %w", err)
	}

	return planes[:res.countPlanes], nil
}

// GetPlane queries one plane.
func GetPlane(file *os.File, id uint32) (*PlaneInfo, error) {
	plane := &sysGetPlane{}
	plane.planeID = id
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, fmt.Errorf("kms: get plane %d: %w", id, err)
	}

	var formats []uint32
	if plane.countFormatTypes > 0 {
		formats = make([]uint32, plane.countFormatTypes)
		plane.formatTypePtr = uintptr(unsafe.Pointer(&formats[0]))

		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
			uintptr(unsafe.Pointer(plane)))
		if err != nil {
			return nil, fmt.Errorf("kms: get plane %d: %w", id, err)
		}
	}

	return &PlaneInfo{
		ID:            plane.planeID,
		CrtcID:        plane.crtcID,
		FbID:          plane.fbID,
		PossibleCrtcs: plane.possibleCrtcs,
		GammaSize:     plane.gammaSize,
		Formats:       formats,
	}, nil
}

// GetObjectProperties enumerates the properties attached to a
// mode-setting object, returning ids and current values.
func GetObjectProperties(file *os.File, id, objType uint32) (*ObjectProperties, error) {
	props := &sysObjGetProperties{}
	props.objID = id
	props.objType = objType
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(props)))
	if err != nil {
		return nil, fmt.Errorf("kms: get properties of object %d: %w", id, err)
	}

	if props.countProps == 0 {
		return &ObjectProperties{}, nil
	}
	ids := make([]uint32, props.countProps)
	values := make([]uint64, props.countProps)
	props.propsPtr = uintptr(unsafe.Pointer(&ids[0]))
	props.propValuesPtr = uintptr(unsafe.Pointer(&values[0]))

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(props)))
	if err != nil {
		return nil, fmt.Errorf("kms: get properties of object %d: %w", id, err)
	}

	n := props.countProps
	return &ObjectProperties{IDs: ids[:n], Values: values[:n]}, nil
}

// GetProperty resolves a property id to its descriptor.
func GetProperty(file *os.File, id uint32) (*PropertyInfo, error) {
	prop := &sysGetProperty{}
	prop.propID = id
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(prop)))
	if err != nil {
		return nil, fmt.Errorf("kms: get property %d: %w", id, err)
	}

	name := prop.name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return &PropertyInfo{
		ID:    prop.propID,
		Name:  string(name),
		Flags: prop.flags,
	}, nil
}

package kms

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/hwc/ioctl"
)

const (
	DisplayModeLen = 32
	PropNameLen    = 32

	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

type (
	sysResources struct {
		fbIDPtr              uintptr
		crtcIDPtr            uintptr
		connectorIDPtr       uintptr
		encoderIDPtr         uintptr
		countFbs             uint32
		countCrtcs           uint32
		countConnectors      uint32
		countEncoders        uint32
		minWidth, maxWidth   uint32
		minHeight, maxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uintptr
		modesPtr      uintptr
		propsPtr      uintptr
		propValuesPtr uintptr

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32 // current encoder
		id              uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32
		subpixel          uint32
	}

	sysGetEncoder struct {
		id  uint32
		typ uint32

		crtcID uint32

		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32 // object to map
		pad    uint32

		// Fake offset to use for the subsequent mmap call.
		offset uint64
	}

	sysFBCmd struct {
		fbID          uint32
		width, height uint32
		pitch         uint32
		bpp           uint32
		depth         uint32

		handle uint32 // driver specific handle
	}

	sysRmFB struct {
		handle uint32
	}

	sysCrtc struct {
		setConnectorsPtr uintptr
		countConnectors  uint32

		id   uint32
		fbID uint32

		x, y uint32 // position on the framebuffer

		gammaSize uint32
		modeValid uint32
		mode      ModeInfo
	}

	sysDestroyDumb struct {
		handle uint32
	}

	// ModeInfo describes a single display timing, as reported by the
	// kernel for each connector.
	ModeInfo struct {
		Clock                                         uint32
		Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
		Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

		Vrefresh uint32

		Flags uint32
		Type  uint32
		Name  [DisplayModeLen]uint8
	}

	// Resources lists the mode-setting object ids owned by a device.
	Resources struct {
		Fbs        []uint32
		Crtcs      []uint32
		Connectors []uint32
		Encoders   []uint32

		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32
	}

	Connector struct {
		ID         uint32
		EncoderID  uint32
		Type       uint32
		TypeID     uint32
		Connection uint8

		// Physical dimensions in millimeters.
		Width, Height uint32
		Subpixel      uint8

		Modes []ModeInfo

		Props      []uint32
		PropValues []uint64

		Encoders []uint32
	}

	Encoder struct {
		ID   uint32
		Type uint32

		CrtcID uint32

		PossibleCrtcs  uint32
		PossibleClones uint32
	}

	Crtc struct {
		ID       uint32
		BufferID uint32 // FB id, 0 = disconnected

		X, Y          uint32
		Width, Height uint32
		ModeValid     int
		Mode          ModeInfo

		GammaSize int
	}

	// DumbBuffer is a kernel-allocated, CPU-mappable framebuffer object.
	DumbBuffer struct {
		Height, Width uint32
		BPP           uint32
		Handle        uint32
		Pitch         uint32
		Size          uint64
	}
)

var (
	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	IOCTLModeResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysResources{})), IOCTLBase, 0xA0)

	// DRM_IOWR(0xA1, struct drm_mode_crtc)
	IOCTLModeGetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), IOCTLBase, 0xA1)

	// DRM_IOWR(0xA2, struct drm_mode_crtc)
	IOCTLModeSetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), IOCTLBase, 0xA2)

	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	IOCTLModeGetEncoder = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetEncoder{})), IOCTLBase, 0xA6)

	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	IOCTLModeGetConnector = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetConnector{})), IOCTLBase, 0xA7)

	// DRM_IOWR(0xAE, struct drm_mode_fb_cmd)
	IOCTLModeAddFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysFBCmd{})), IOCTLBase, 0xAE)

	// DRM_IOWR(0xAF, unsigned int)
	IOCTLModeRmFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(uint32(0))), IOCTLBase, 0xAF)

	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	IOCTLModeCreateDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateDumb{})), IOCTLBase, 0xB2)

	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	IOCTLModeMapDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysMapDumb{})), IOCTLBase, 0xB3)

	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	IOCTLModeDestroyDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyDumb{})), IOCTLBase, 0xB4)
)

// GetResources enumerates the mode-setting objects of a device.
func GetResources(file *os.File) (*Resources, error) {
	mres := &sysResources{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, fmt.Errorf("kms: get resources: %w", err)
	}

	var fbids, crtcids, connectorids, encoderids []uint32

	if mres.countFbs > 0 {
		fbids = make([]uint32, mres.countFbs)
		mres.fbIDPtr = uintptr(unsafe.Pointer(&fbids[0]))
	}
	if mres.countCrtcs > 0 {
		crtcids = make([]uint32, mres.countCrtcs)
		mres.crtcIDPtr = uintptr(unsafe.Pointer(&crtcids[0]))
	}
	if mres.countEncoders > 0 {
		encoderids = make([]uint32, mres.countEncoders)
		mres.encoderIDPtr = uintptr(unsafe.Pointer(&encoderids[0]))
	}
	if mres.countConnectors > 0 {
		connectorids = make([]uint32, mres.countConnectors)
		mres.connectorIDPtr = uintptr(unsafe.Pointer(&connectorids[0]))
	}

	// TODO: handle hotplug changing the counts between the two calls
	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, fmt.Errorf("kms: get resources: %w", err)
	}

	return &Resources{
		Fbs:        fbids,
		Crtcs:      crtcids,
		Encoders:   encoderids,
		Connectors: connectorids,
		MinWidth:   mres.minWidth,
		MaxWidth:   mres.maxWidth,
		MinHeight:  mres.minHeight,
		MaxHeight:  mres.maxHeight,
	}, nil
}

// GetConnector queries one connector and its supported modes.
func GetConnector(file *os.File, connid uint32) (*Connector, error) {
	conn := &sysGetConnector{}
	conn.id = connid
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, fmt.Errorf("kms: get connector %d: %w", connid, err)
	}

	var (
		props, encoders []uint32
		propValues      []uint64
		modes           []ModeInfo
	)

	if conn.countProps > 0 {
		props = make([]uint32, conn.countProps)
		conn.propsPtr = uintptr(unsafe.Pointer(&props[0]))

		propValues = make([]uint64, conn.countProps)
		conn.propValuesPtr = uintptr(unsafe.Pointer(&propValues[0]))
	}

	if conn.countModes == 0 {
		conn.countModes = 1
	}

	modes = make([]ModeInfo, conn.countModes)
	conn.modesPtr = uintptr(unsafe.Pointer(&modes[0]))

	if conn.countEncoders > 0 {
		encoders = make([]uint32, conn.countEncoders)
		conn.encodersPtr = uintptr(unsafe.Pointer(&encoders[0]))
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, fmt.Errorf("kms: get connector %d: %w", connid, err)
	}

	ret := &Connector{
		ID:         conn.id,
		EncoderID:  conn.encoderID,
		Connection: uint8(conn.connection),
		Width:      conn.mmWidth,
		Height:     conn.mmHeight,

		// convert subpixel from kernel to userspace
		Subpixel: uint8(conn.subpixel + 1),
		Type:     conn.connectorType,
		TypeID:   conn.connectorTypeID,
	}

	ret.Props = append(ret.Props, props...)
	ret.PropValues = append(ret.PropValues, propValues...)
	ret.Modes = append(ret.Modes, modes[:conn.countModes]...)
	ret.Encoders = append(ret.Encoders, encoders...)

	return ret, nil
}

// GetEncoder queries one encoder.
func GetEncoder(file *os.File, id uint32) (*Encoder, error) {
	encoder := &sysGetEncoder{}
	encoder.id = id

	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetEncoder),
		uintptr(unsafe.Pointer(encoder)))
	if err != nil {
		return nil, fmt.Errorf("kms: get encoder %d: %w", id, err)
	}

	return &Encoder{
		ID:             encoder.id,
		CrtcID:         encoder.crtcID,
		Type:           encoder.typ,
		PossibleCrtcs:  encoder.possibleCrtcs,
		PossibleClones: encoder.possibleClones,
	}, nil
}

// GetCrtc queries the current configuration of one CRTC.
func GetCrtc(file *os.File, id uint32) (*Crtc, error) {
	crtc := &sysCrtc{}
	crtc.id = id
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	if err != nil {
		return nil, fmt.Errorf("kms: get crtc %d: %w", id, err)
	}
	return &Crtc{
		ID:        crtc.id,
		X:         crtc.x,
		Y:         crtc.y,
		ModeValid: int(crtc.modeValid),
		BufferID:  crtc.fbID,
		GammaSize: int(crtc.gammaSize),
		Mode:      crtc.mode,
		Width:     uint32(crtc.mode.Hdisplay),
		Height:    uint32(crtc.mode.Vdisplay),
	}, nil
}

// SetCrtc performs a legacy (non-atomic) mode set, scanning out bufferid
// on crtcid for the given connectors.
func SetCrtc(file *os.File, crtcid, bufferid, x, y uint32, connectors []uint32, mode *ModeInfo) error {
	crtc := &sysCrtc{}
	crtc.x = x
	crtc.y = y
	crtc.id = crtcid
	crtc.fbID = bufferid
	if len(connectors) > 0 {
		crtc.setConnectorsPtr = uintptr(unsafe.Pointer(&connectors[0]))
	}
	crtc.countConnectors = uint32(len(connectors))
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeSetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	if err != nil {
		return fmt.Errorf("kms: set crtc %d: %w", crtcid, err)
	}
	return nil
}

// CreateDumb allocates a dumb buffer of the given size.
func CreateDumb(file *os.File, width, height uint16, bpp uint32) (*DumbBuffer, error) {
	fb := &sysCreateDumb{}
	fb.width = uint32(width)
	fb.height = uint32(height)
	fb.bpp = bpp
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCreateDumb),
		uintptr(unsafe.Pointer(fb)))
	if err != nil {
		return nil, fmt.Errorf("kms: create dumb buffer: %w", err)
	}
	return &DumbBuffer{
		Height: fb.height,
		Width:  fb.width,
		BPP:    fb.bpp,
		Handle: fb.handle,
		Pitch:  fb.pitch,
		Size:   fb.size,
	}, nil
}

// AddFB registers a framebuffer for a buffer object and returns its id.
func AddFB(file *os.File, width, height uint16,
	depth, bpp uint8, pitch, boHandle uint32) (uint32, error) {
	f := &sysFBCmd{}
	f.width = uint32(width)
	f.height = uint32(height)
	f.pitch = pitch
	f.bpp = uint32(bpp)
	f.depth = uint32(depth)
	f.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeAddFB),
		uintptr(unsafe.Pointer(f)))
	if err != nil {
		return 0, fmt.Errorf("kms: add fb: %w", err)
	}
	return f.fbID, nil
}

// RmFB unregisters a framebuffer.
func RmFB(file *os.File, fbid uint32) error {
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeRmFB),
		uintptr(unsafe.Pointer(&sysRmFB{fbid})))
	if err != nil {
		return fmt.Errorf("kms: rm fb %d: %w", fbid, err)
	}
	return nil
}

// MapDumb returns the mmap offset for a dumb buffer handle.
func MapDumb(file *os.File, boHandle uint32) (uint64, error) {
	mreq := &sysMapDumb{}
	mreq.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeMapDumb),
		uintptr(unsafe.Pointer(mreq)))
	if err != nil {
		return 0, fmt.Errorf("kms: map dumb buffer: %w", err)
	}
	return mreq.offset, nil
}

// DestroyDumb releases a dumb buffer.
func DestroyDumb(file *os.File, handle uint32) error {
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeDestroyDumb),
		uintptr(unsafe.Pointer(&sysDestroyDumb{handle})))
	if err != nil {
		return fmt.Errorf("kms: destroy dumb buffer: %w", err)
	}
	return nil
}

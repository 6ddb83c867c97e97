// Package kms wraps the kernel mode-setting interfaces needed to drive
// hardware planes: device node access, resource and property enumeration,
// and the atomic commit request used to test and apply configurations.
package kms

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/hwc/ioctl"
)

const IOCTLBase = 'd'

type (
	sysVersion struct {
		Major   int32
		Minor   int32
		Patch   int32
		namelen int64
		name    uintptr
		datelen int64
		date    uintptr
		desclen int64
		desc    uintptr
	}

	// Version of the DRM driver behind a device node.
	Version struct {
		Major, Minor, Patch int32
		Name                string // Name of the driver (eg.: i915)
		Date                string
		Desc                string
	}

	sysCapability struct {
		cap uint64
		val uint64
	}

	sysSetClientCap struct {
		cap uint64
		val uint64
	}
)

// Driver capabilities, queried with GetCap.
const (
	CapDumbBuffer = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers = 0x10
)

// Client capabilities, announced with SetClientCap. Both must be enabled
// before plane enumeration sees primary and cursor planes and before
// atomic commits are accepted.
const (
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3
)

var (
	// DRM_IOWR(0x00, struct drm_version)
	IOCTLVersion = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysVersion{})), IOCTLBase, 0)

	// DRM_IOWR(0x0c, struct drm_get_cap)
	IOCTLGetCap = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCapability{})), IOCTLBase, 0x0c)

	// DRM_IOW(0x0d, struct drm_set_client_cap)
	IOCTLSetClientCap = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(sysSetClientCap{})), IOCTLBase, 0x0d)
)

const driPath = "/dev/dri"

func OpenCard(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/card%d", driPath, n))
}

func OpenControlDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/controlD%d", driPath, n))
}

func OpenRenderDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/renderD%d", driPath, n))
}

func open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// GetVersion queries the driver version and identification strings.
func GetVersion(file *os.File) (Version, error) {
	var name, date, desc []byte

	version := &sysVersion{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, fmt.Errorf("kms: get version: %w", err)
	}

	if version.namelen > 0 {
		name = make([]byte, version.namelen+1)
		version.name = uintptr(unsafe.Pointer(&name[0]))
	}
	if version.datelen > 0 {
		date = make([]byte, version.datelen+1)
		version.date = uintptr(unsafe.Pointer(&date[0]))
	}
	if version.desclen > 0 {
		desc = make([]byte, version.desclen+1)
		version.desc = uintptr(unsafe.Pointer(&desc[0]))
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, fmt.Errorf("kms: get version: %w", err)
	}

	trim := func(b []byte, n int64) string {
		return string(bytes.TrimRight(b[:n], "\x00"))
	}

	return Version{
		Major: version.Major,
		Minor: version.Minor,
		Patch: version.Patch,
		Name:  trim(name, version.namelen),
		Date:  trim(date, version.datelen),
		Desc:  trim(desc, version.desclen),
	}, nil
}

// GetCap queries a single driver capability value.
func GetCap(file *os.File, cap uint64) (uint64, error) {
	c := &sysCapability{cap: cap}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLGetCap),
		uintptr(unsafe.Pointer(c)))
	if err != nil {
		return 0, fmt.Errorf("kms: get cap %d: %w", cap, err)
	}
	return c.val, nil
}

// HasDumbBuffer reports whether the device supports dumb buffers.
func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	return err == nil && val != 0
}

// SetClientCap announces a client capability to the kernel.
func SetClientCap(file *os.File, cap, val uint64) error {
	c := &sysSetClientCap{cap: cap, val: val}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLSetClientCap),
		uintptr(unsafe.Pointer(c)))
	if err != nil {
		return fmt.Errorf("kms: set client cap %d: %w", cap, err)
	}
	return nil
}

package hwc

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/hwc/kms"
)

// backend is the slice of the kernel interface a Device consumes.
// *deviceFile forwards to the real device; tests substitute an
// in-process mock.
type backend interface {
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*kms.PlaneInfo, error)
	ObjectProperties(id uint32) (*kms.ObjectProperties, error)
	Property(id uint32) (*kms.PropertyInfo, error)
	Commit(req *kms.AtomicRequest, flags uint32) error
	Close() error
}

type deviceFile struct {
	file *os.File
}

func (d *deviceFile) PlaneResources() ([]uint32, error) {
	return kms.GetPlaneResources(d.file)
}

func (d *deviceFile) Plane(id uint32) (*kms.PlaneInfo, error) {
	return kms.GetPlane(d.file, id)
}

func (d *deviceFile) ObjectProperties(id uint32) (*kms.ObjectProperties, error) {
	return kms.GetObjectProperties(d.file, id, kms.ObjectPlane)
}

func (d *deviceFile) Property(id uint32) (*kms.PropertyInfo, error) {
	return kms.GetProperty(d.file, id)
}

func (d *deviceFile) Commit(req *kms.AtomicRequest, flags uint32) error {
	return kms.Commit(d.file, req, flags)
}

func (d *deviceFile) Close() error {
	return d.file.Close()
}

// Device owns the plane registry for one DRM device and runs allocation
// passes over it. A Device is not safe for concurrent use.
type Device struct {
	drm     backend
	planes  []*Plane
	outputs []*Output
	log     *slog.Logger
}

// Create builds the plane registry for card. The file descriptor is
// duplicated; the caller keeps ownership of card and must have enabled
// the universal-planes and atomic client capabilities on it.
//
// On any discovery failure no Device is returned and everything built
// so far is released.
func Create(card *os.File) (*Device, error) {
	fd, err := unix.Dup(int(card.Fd()))
	if err != nil {
		return nil, fmt.Errorf("hwc: dup device fd: %w", err)
	}
	return createWithBackend(&deviceFile{os.NewFile(uintptr(fd), card.Name())})
}

func createWithBackend(b backend) (*Device, error) {
	dev := &Device{
		drm: b,
		log: slog.Default(),
	}

	ids, err := dev.drm.PlaneResources()
	if err != nil {
		dev.Destroy()
		return nil, fmt.Errorf("hwc: enumerate planes: %w", err)
	}
	for _, id := range ids {
		if err := dev.addPlane(id); err != nil {
			dev.Destroy()
			return nil, err
		}
	}

	return dev, nil
}

// Destroy releases the duplicated device handle and every plane. It
// tolerates a partially constructed Device and is what Create uses to
// unwind on failure.
func (dev *Device) Destroy() {
	if dev == nil {
		return
	}
	if dev.drm != nil {
		dev.drm.Close()
		dev.drm = nil
	}
	for _, plane := range dev.planes {
		unpair(plane)
	}
	dev.planes = nil
	dev.outputs = nil
}

// SetLogger routes the device's diagnostics. The default is
// slog.Default().
func (dev *Device) SetLogger(log *slog.Logger) {
	if log != nil {
		dev.log = log
	}
}

// Planes returns the plane registry in allocation order.
func (dev *Device) Planes() []*Plane {
	return dev.planes
}

// AddOutput registers a display output, identified by its CRTC id.
// Layers added to it take part in subsequent allocation passes.
func (dev *Device) AddOutput(crtcID uint32) *Output {
	out := &Output{device: dev, crtcID: crtcID}
	dev.outputs = append(dev.outputs, out)
	return out
}

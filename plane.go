package hwc

import (
	"errors"
	"fmt"

	"github.com/NeowayLabs/hwc/kms"
)

// errMissingProperty marks a candidate plane that cannot express one of
// the layer's required properties. The allocator moves on to the next
// plane; it is never surfaced to callers.
var errMissingProperty = errors.New("hwc: plane is missing a layer property")

// planeProperty is one entry of a plane's property table: a settable
// attribute resolved to its driver-assigned id at discovery time.
type planeProperty struct {
	name string
	id   uint32
}

// Plane is one hardware compositing resource. Planes are created during
// device discovery and live until the Device is destroyed.
type Plane struct {
	device *Device

	id            uint32
	possibleCRTCs uint32
	typ           uint64
	zpos          int

	props []planeProperty

	layer *Layer
}

// ID returns the plane's object id.
func (plane *Plane) ID() uint32 {
	return plane.id
}

// Type returns the plane type (kms.PlaneTypePrimary et al).
func (plane *Plane) Type() uint64 {
	return plane.typ
}

// PossibleCRTCs returns the CRTC affinity bitmask, indexed by CRTC
// position in the device's resources array.
func (plane *Plane) PossibleCRTCs() uint32 {
	return plane.possibleCRTCs
}

// Layer returns the layer this plane was paired with by the last
// allocation pass, or nil.
func (plane *Plane) Layer() *Layer {
	return plane.layer
}

func (dev *Device) addPlane(id uint32) error {
	for _, plane := range dev.planes {
		if plane.id == id {
			return fmt.Errorf("hwc: plane %d registered twice", id)
		}
	}

	info, err := dev.drm.Plane(id)
	if err != nil {
		return fmt.Errorf("hwc: %w", err)
	}

	plane := &Plane{
		device:        dev,
		id:            info.ID,
		possibleCRTCs: info.PossibleCrtcs,
	}

	props, err := dev.drm.ObjectProperties(id)
	if err != nil {
		return fmt.Errorf("hwc: %w", err)
	}

	var hasType, hasZpos bool
	for i, propID := range props.IDs {
		desc, err := dev.drm.Property(propID)
		if err != nil {
			return fmt.Errorf("hwc: %w", err)
		}
		plane.props = append(plane.props, planeProperty{
			name: desc.Name,
			id:   desc.ID,
		})

		switch desc.Name {
		case "type":
			plane.typ = props.Values[i]
			hasType = true
		case "zpos":
			plane.zpos = int(props.Values[i])
			hasZpos = true
		}
	}

	if !hasType {
		return fmt.Errorf("hwc: plane %d is missing the type property", id)
	}
	if !hasZpos {
		plane.zpos = dev.guessPlaneZpos(plane)
	}

	dev.insertPlane(plane)
	return nil
}

// guessPlaneZpos orders planes from far to close to the eye when the
// driver exposes no zpos property: primary, overlay, cursor. Unless the
// overlay id < primary id.
func (dev *Device) guessPlaneZpos(plane *Plane) int {
	switch plane.typ {
	case kms.PlaneTypePrimary:
		return 0
	case kms.PlaneTypeCursor:
		return 2
	case kms.PlaneTypeOverlay:
		if len(dev.planes) == 0 {
			return 0 // no primary plane, shouldn't happen
		}
		if plane.id < dev.planes[0].id {
			return -1
		}
		return 1
	}
	return 0
}

// insertPlane keeps the registry in allocation order: primary planes
// first, then the remaining planes by descending zpos. The match phase
// fills planes in this order, so primaries get framebuffers first, then
// planes far from the eye, then closer and closer ones.
func (dev *Device) insertPlane(plane *Plane) {
	at := len(dev.planes)
	if plane.typ == kms.PlaneTypePrimary {
		at = 0
	} else {
		for i, cur := range dev.planes {
			if cur.typ != kms.PlaneTypePrimary && plane.zpos >= cur.zpos {
				at = i
				break
			}
		}
	}

	dev.planes = append(dev.planes, nil)
	copy(dev.planes[at+1:], dev.planes[at:])
	dev.planes[at] = plane
}

func (plane *Plane) property(name string) *planeProperty {
	for i := range plane.props {
		if plane.props[i].name == name {
			return &plane.props[i]
		}
	}
	return nil
}

// mustProperty looks up a property every valid plane carries. Absence
// means a broken driver or a corrupted registry, not a state callers
// can recover from.
func (plane *Plane) mustProperty(name string) *planeProperty {
	prop := plane.property(name)
	if prop == nil {
		panic(fmt.Sprintf("hwc: plane %d is missing the %s property", plane.id, name))
	}
	return prop
}

func (plane *Plane) setProp(req *kms.AtomicRequest, prop *planeProperty, value uint64) error {
	plane.device.log.Debug("setting plane property",
		"plane", plane.id, "property", prop.name, "value", value)
	if err := req.Add(plane.id, prop.id, value); err != nil {
		return fmt.Errorf("hwc: %w", err)
	}
	return nil
}

// hasDefaultValue reports whether a layer property may be omitted on a
// plane that doesn't carry it because value is the hardware default.
func hasDefaultValue(name string, value uint64) bool {
	switch name {
	case "alpha":
		return value == 0xFFFF // completely opaque
	case "rotation":
		return value == kms.Rotate0
	case "SCALING_FILTER":
		return value == 0 // default filter
	case "pixel blend mode":
		return value == 0 // pre-multiplied alpha
	case "FB_DAMAGE_CLIPS":
		return true // damage can always be omitted
	}
	return false
}

// apply appends to req the property writes that put layer on the plane,
// or the writes that disable the plane when layer is nil.
//
// A missing plane property for a non-default layer value fails with
// errMissingProperty and leaves req as it was; any append failure is
// fatal. apply never commits.
func (plane *Plane) apply(layer *Layer, req *kms.AtomicRequest) error {
	cursor := req.Cursor()

	if layer == nil {
		if err := plane.setProp(req, plane.mustProperty("FB_ID"), 0); err != nil {
			return err
		}
		return plane.setProp(req, plane.mustProperty("CRTC_ID"), 0)
	}

	err := plane.setProp(req, plane.mustProperty("CRTC_ID"), uint64(layer.output.crtcID))
	if err != nil {
		return err
	}

	for _, layerProp := range layer.props {
		if layerProp.name == "zpos" {
			// Only used read-only while ordering the registry.
			continue
		}

		prop := plane.property(layerProp.name)
		if prop == nil {
			if hasDefaultValue(layerProp.name, layerProp.value) {
				continue
			}
			plane.device.log.Debug("plane is missing a property",
				"plane", plane.id, "property", layerProp.name)
			req.SetCursor(cursor)
			return fmt.Errorf("plane %d, property %q: %w",
				plane.id, layerProp.name, errMissingProperty)
		}

		if err := plane.setProp(req, prop, layerProp.value); err != nil {
			req.SetCursor(cursor)
			return err
		}
	}

	return nil
}

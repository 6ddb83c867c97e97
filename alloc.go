package hwc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/hwc/kms"
)

// Apply runs one full allocation pass, appending the resulting plane
// configuration to req. The previous pairing is discarded and recomputed
// from scratch.
//
// On success each layer's Plane() tells whether it got hardware
// compositing; the caller still has to issue the real (non-test) commit
// of req to make the configuration visible. On failure the pairing state
// is unspecified and the pass should be retried with a fresh request.
func (dev *Device) Apply(req *kms.AtomicRequest) error {
	for _, plane := range dev.planes {
		unpair(plane)
	}

	// Disable all planes before building the new mapping, so that
	// stale assignments don't eat into shared bandwidth limits while
	// candidates are being tested.
	for _, plane := range dev.planes {
		if plane.layer == nil {
			dev.log.Debug("disabling plane", "plane", plane.id)
			if err := plane.apply(nil, req); err != nil {
				return err
			}
		}
	}

	for _, out := range dev.outputs {
		for _, layer := range out.layers {
			if !layer.visible() {
				dev.log.Debug("skipping hidden layer", "crtc", out.crtcID)
				continue
			}
			if err := dev.choosePlane(layer, req); err != nil {
				return err
			}
		}
	}

	return nil
}

// choosePlane offers every still-unpaired plane to the layer, in
// registry order, and pairs the first one the driver accepts in a
// test-only commit. Finding none is not an error: the layer stays
// unpaired and falls back to software composition.
func (dev *Device) choosePlane(layer *Layer, req *kms.AtomicRequest) error {
	cursor := req.Cursor()

	for _, plane := range dev.planes {
		if plane.layer != nil {
			continue
		}

		dev.log.Debug("trying plane for layer",
			"plane", plane.id, "crtc", layer.output.crtcID)

		err := plane.apply(layer, req)
		if errors.Is(err, errMissingProperty) {
			continue // this plane can't express the layer, next one
		}
		if err != nil {
			return err
		}

		err = dev.drm.Commit(req, kms.AtomicTestOnly)
		switch {
		case err == nil:
			dev.log.Debug("paired layer with plane",
				"plane", plane.id, "crtc", layer.output.crtcID)
			pair(plane, layer)
			return nil
		case errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ERANGE):
			// Structurally infeasible: this plane can't drive the
			// layer's geometry or format. Undo and try the next.
			dev.log.Debug("test commit rejected plane",
				"plane", plane.id, "crtc", layer.output.crtcID,
				"errno", err)
			req.SetCursor(cursor)
		default:
			return fmt.Errorf("hwc: atomic test commit: %w", err)
		}
	}

	dev.log.Debug("no plane for layer, falling back to composition",
		"crtc", layer.output.crtcID)
	return nil
}

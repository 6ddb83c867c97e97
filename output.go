package hwc

// Output is one display output, identified by the CRTC driving it. The
// caller owns outputs and their layers; the allocator only reads them
// and writes the layer↔plane pairing.
type Output struct {
	device *Device
	crtcID uint32
	layers []*Layer
}

// CRTC returns the id of the CRTC driving this output.
func (out *Output) CRTC() uint32 {
	return out.crtcID
}

// Layers returns the output's layers in priority order.
func (out *Output) Layers() []*Layer {
	return out.layers
}

// AddLayer appends a layer to the output. Layer order is allocation
// priority: layers added first get first choice of planes, so add the
// most important content (typically the full-screen background) first.
func (out *Output) AddLayer() *Layer {
	layer := &Layer{output: out}
	out.layers = append(out.layers, layer)
	return layer
}

// Destroy detaches the output and its layers from the device. Planes
// paired with its layers become available again on the next pass.
func (out *Output) Destroy() {
	for _, layer := range out.layers {
		if layer.plane != nil {
			unpair(layer.plane)
		}
	}
	out.layers = nil

	dev := out.device
	for i, o := range dev.outputs {
		if o == out {
			dev.outputs = append(dev.outputs[:i], dev.outputs[i+1:]...)
			break
		}
	}
	out.device = nil
}

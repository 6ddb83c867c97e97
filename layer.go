package hwc

// layerProperty is one desired (name, value) pair of a layer. The set is
// ordered: properties are applied in the order they were first set.
type layerProperty struct {
	name  string
	value uint64
}

// Layer is the content the caller wants composited on an output: a set
// of desired KMS plane properties (FB_ID, CRTC_X/Y/W/H, SRC_*, ...).
// The allocator never mutates the property set; it only writes the
// plane pairing.
type Layer struct {
	output *Output
	props  []layerProperty
	plane  *Plane
}

// Output returns the output this layer belongs to.
func (layer *Layer) Output() *Output {
	return layer.output
}

// Plane returns the plane the last allocation pass assigned to this
// layer, or nil if the layer must be composited in software.
func (layer *Layer) Plane() *Plane {
	return layer.plane
}

// SetProperty sets a desired property value, replacing any previous
// value of the same name.
func (layer *Layer) SetProperty(name string, value uint64) {
	for i := range layer.props {
		if layer.props[i].name == name {
			layer.props[i].value = value
			return
		}
	}
	layer.props = append(layer.props, layerProperty{name: name, value: value})
}

func (layer *Layer) property(name string) (uint64, bool) {
	for i := range layer.props {
		if layer.props[i].name == name {
			return layer.props[i].value, true
		}
	}
	return 0, false
}

// visible reports whether the layer has anything to scan out: a
// non-zero framebuffer and a non-zero alpha.
func (layer *Layer) visible() bool {
	if alpha, ok := layer.property("alpha"); ok && alpha == 0 {
		return false
	}
	fbID, ok := layer.property("FB_ID")
	return ok && fbID != 0
}

// Destroy unpairs the layer and detaches it from its output.
func (layer *Layer) Destroy() {
	if layer.plane != nil {
		unpair(layer.plane)
	}
	out := layer.output
	if out == nil {
		return
	}
	for i, l := range out.layers {
		if l == layer {
			out.layers = append(out.layers[:i], out.layers[i+1:]...)
			break
		}
	}
	layer.output = nil
}

// pair and unpair are the only places the bidirectional plane↔layer
// reference is mutated, so the two sides can never disagree.
func pair(plane *Plane, layer *Layer) {
	plane.layer = layer
	layer.plane = plane
}

func unpair(plane *Plane) {
	if plane.layer != nil {
		plane.layer.plane = nil
		plane.layer = nil
	}
}

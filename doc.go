// Package hwc assigns KMS hardware planes to display layers.
//
// Compositors describe what they want on screen as a list of layers per
// output; hwc finds, by speculatively test-committing candidate
// configurations through the atomic API, a set of hardware planes the
// driver accepts for them. Layers that no plane can take are left
// unassigned and must be composited in software by the caller.
package hwc

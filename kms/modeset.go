package kms

import (
	"fmt"
	"os"
)

// Modeset pairs a connected connector with a free CRTC and the
// connector's preferred mode.
type Modeset struct {
	Conn uint32
	Crtc uint32
	Mode ModeInfo

	Width, Height uint16
}

// ConnectedOutputs walks every connector of the device and pairs each
// connected one with a usable CRTC. Connectors without a monitor are
// skipped; a connected connector for which no CRTC can be found is an
// error.
func ConnectedOutputs(file *os.File) ([]Modeset, error) {
	res, err := GetResources(file)
	if err != nil {
		return nil, err
	}

	var outputs []Modeset
	for _, connid := range res.Connectors {
		conn, err := GetConnector(file, connid)
		if err != nil {
			return nil, err
		}
		if conn.Connection != Connected {
			continue
		}
		if len(conn.Modes) == 0 {
			return nil, fmt.Errorf("kms: no valid mode for connector %d", conn.ID)
		}

		crtc, err := findCrtc(file, res, conn, outputs)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, Modeset{
			Conn:   conn.ID,
			Crtc:   crtc,
			Mode:   conn.Modes[0],
			Width:  conn.Modes[0].Hdisplay,
			Height: conn.Modes[0].Vdisplay,
		})
	}
	return outputs, nil
}

func crtcTaken(taken []Modeset, crtcid uint32) bool {
	for _, m := range taken {
		if m.Crtc == crtcid {
			return true
		}
	}
	return false
}

// findCrtc prefers the CRTC the connector's current encoder is already
// driving, then falls back to scanning every encoder/CRTC combination.
func findCrtc(file *os.File, res *Resources, conn *Connector, taken []Modeset) (uint32, error) {
	if conn.EncoderID != 0 {
		enc, err := GetEncoder(file, conn.EncoderID)
		if err != nil {
			return 0, err
		}
		if enc.CrtcID != 0 && !crtcTaken(taken, enc.CrtcID) {
			return enc.CrtcID, nil
		}
	}

	for _, encid := range conn.Encoders {
		enc, err := GetEncoder(file, encid)
		if err != nil {
			return 0, err
		}
		for i, crtcid := range res.Crtcs {
			if enc.PossibleCrtcs&(1<<uint(i)) == 0 {
				continue
			}
			if crtcTaken(taken, crtcid) {
				continue
			}
			return crtcid, nil
		}
	}

	return 0, fmt.Errorf("kms: no suitable CRTC for connector %d", conn.ID)
}

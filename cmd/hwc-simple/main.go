// hwc-simple lights up every connected output with a background
// framebuffer and a small overlay layer, lets the allocator map the
// layers to hardware planes and commits the result for a few seconds.
//
// Run it from a virtual terminal, not from inside a display server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"launchpad.net/gommap"

	"github.com/NeowayLabs/hwc"
	"github.com/NeowayLabs/hwc/kms"
)

type framebuffer struct {
	id     uint32
	handle uint32
	data   gommap.MMap

	width, height uint16
	stride        uint32
}

func createFramebuffer(file *os.File, width, height uint16) (*framebuffer, error) {
	dumb, err := kms.CreateDumb(file, width, height, 32)
	if err != nil {
		return nil, err
	}

	fbID, err := kms.AddFB(file, width, height, 24, 32, dumb.Pitch, dumb.Handle)
	if err != nil {
		return nil, err
	}

	offset, err := kms.MapDumb(file, dumb.Handle)
	if err != nil {
		return nil, err
	}

	data, err := gommap.MapRegion(file.Fd(), int64(offset), int64(dumb.Size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap framebuffer: %w", err)
	}

	return &framebuffer{
		id:     fbID,
		handle: dumb.Handle,
		data:   data,
		width:  width,
		height: height,
		stride: dumb.Pitch,
	}, nil
}

func (fb *framebuffer) fill(xrgb uint32) {
	for y := 0; y < int(fb.height); y++ {
		row := fb.data[y*int(fb.stride):]
		for x := 0; x < int(fb.width); x++ {
			row[x*4+0] = byte(xrgb)
			row[x*4+1] = byte(xrgb >> 8)
			row[x*4+2] = byte(xrgb >> 16)
			row[x*4+3] = byte(xrgb >> 24)
		}
	}
}

func (fb *framebuffer) destroy(file *os.File) {
	fb.data.UnsafeUnmap()
	kms.RmFB(file, fb.id)
	kms.DestroyDumb(file, fb.handle)
}

func addLayer(out *hwc.Output, fb *framebuffer, x, y uint64) *hwc.Layer {
	layer := out.AddLayer()
	layer.SetProperty("FB_ID", uint64(fb.id))
	layer.SetProperty("CRTC_X", x)
	layer.SetProperty("CRTC_Y", y)
	layer.SetProperty("CRTC_W", uint64(fb.width))
	layer.SetProperty("CRTC_H", uint64(fb.height))
	layer.SetProperty("SRC_X", 0)
	layer.SetProperty("SRC_Y", 0)
	layer.SetProperty("SRC_W", uint64(fb.width)<<16)
	layer.SetProperty("SRC_H", uint64(fb.height)<<16)
	return layer
}

func run(card int, log *slog.Logger) error {
	file, err := kms.OpenCard(card)
	if err != nil {
		return err
	}
	defer file.Close()

	version, err := kms.GetVersion(file)
	if err != nil {
		return err
	}
	log.Info("opened device", "card", card, "driver", version.Name)

	if !kms.HasDumbBuffer(file) {
		return fmt.Errorf("card %d does not support dumb buffers", card)
	}
	if err := kms.SetClientCap(file, kms.ClientCapUniversalPlanes, 1); err != nil {
		return err
	}
	if err := kms.SetClientCap(file, kms.ClientCapAtomic, 1); err != nil {
		return err
	}

	outputs, err := kms.ConnectedOutputs(file)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return fmt.Errorf("no connected outputs")
	}

	dev, err := hwc.Create(file)
	if err != nil {
		return err
	}
	defer dev.Destroy()
	dev.SetLogger(log)

	var layers []*hwc.Layer
	for _, mset := range outputs {
		background, err := createFramebuffer(file, mset.Width, mset.Height)
		if err != nil {
			return err
		}
		defer background.destroy(file)
		background.fill(0x001a2b3c)

		overlay, err := createFramebuffer(file, mset.Width/4, mset.Height/4)
		if err != nil {
			return err
		}
		defer overlay.destroy(file)
		overlay.fill(0x00e07020)

		// Make sure a mode is programmed before the plane commit.
		connectors := []uint32{mset.Conn}
		mode := mset.Mode
		if err := kms.SetCrtc(file, mset.Crtc, background.id, 0, 0, connectors, &mode); err != nil {
			return err
		}

		out := dev.AddOutput(mset.Crtc)
		layers = append(layers,
			addLayer(out, background, 0, 0),
			addLayer(out, overlay, uint64(mset.Width/8), uint64(mset.Height/8)))
	}

	req := kms.NewAtomicRequest()
	if err := dev.Apply(req); err != nil {
		return err
	}
	if err := kms.Commit(file, req, 0); err != nil {
		return fmt.Errorf("atomic commit: %w", err)
	}

	for i, layer := range layers {
		if plane := layer.Plane(); plane != nil {
			log.Info("layer on hardware plane", "layer", i, "plane", plane.ID())
		} else {
			log.Info("layer needs software composition", "layer", i)
		}
	}

	time.Sleep(5 * time.Second)
	return nil
}

func main() {
	card := flag.Int("card", 0, "DRI card number")
	verbose := flag.Bool("v", false, "log allocation details")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if err := run(*card, log); err != nil {
		log.Error("hwc-simple failed", "error", err)
		os.Exit(1)
	}
}

package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"sharpscale/internal/superres"
)

// FSRCNN architecture and factor the loader binds.
const (
	FSRCNNName  = "fsrcnn"
	FSRCNNScale = 4
)

// FSRCNN runs a pretrained FSRCNN network on the luminance channel.
type FSRCNN struct {
	mu    sync.Mutex
	net   gocv.Net
	path  string
	scale int
}

// LoadFSRCNN reads the network at path on the OpenCV backend with a CPU
// target. Failures are returned as *superres.ModelLoadError.
func LoadFSRCNN(path string) (*FSRCNN, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &superres.ModelLoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &superres.ModelLoadError{Path: path, Err: errors.New("is a directory")}
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return nil, &superres.ModelLoadError{Path: path, Err: errors.New("opencv could not parse the network")}
	}
	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &FSRCNN{net: net, path: path, scale: FSRCNNScale}, nil
}

func (m *FSRCNN) Name() string { return FSRCNNName }

func (m *FSRCNN) Scale() int { return m.scale }

// Path is the file the network was loaded from.
func (m *FSRCNN) Path() string { return m.path }

// Upsample enlarges src by Scale. Y goes through the network, Cr and Cb are
// resized bilinearly to whatever size the network produced.
func (m *FSRCNN) Upsample(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return apply(src, func(in gocv.Mat, out *gocv.Mat) error {
		ycrcb := gocv.NewMat()
		defer ycrcb.Close()
		gocv.CvtColor(in, &ycrcb, gocv.ColorBGRToYCrCb)

		channels := gocv.Split(ycrcb)
		defer func() {
			for _, c := range channels {
				c.Close()
			}
		}()
		if len(channels) != 3 {
			return fmt.Errorf("ycrcb split: got %d channels", len(channels))
		}

		y, err := m.forward(channels[0])
		if err != nil {
			return err
		}
		defer y.Close()

		// Chroma follows the network's luminance size, which may round.
		size := image.Pt(y.Cols(), y.Rows())

		cr := gocv.NewMat()
		defer cr.Close()
		cb := gocv.NewMat()
		defer cb.Close()
		gocv.Resize(channels[1], &cr, size, 0, 0, gocv.InterpolationLinear)
		gocv.Resize(channels[2], &cb, size, 0, 0, gocv.InterpolationLinear)

		merged := gocv.NewMat()
		defer merged.Close()
		gocv.Merge([]gocv.Mat{y, cr, cb}, &merged)
		gocv.CvtColor(merged, out, gocv.ColorYCrCbToBGR)
		return nil
	})
}

// forward returns the 8-bit luminance plane predicted for y.
func (m *FSRCNN) forward(y gocv.Mat) (gocv.Mat, error) {
	blob := gocv.BlobFromImage(y, 1.0/255.0, image.Pt(0, 0), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	prob := m.net.Forward("")
	m.mu.Unlock()
	defer prob.Close()
	if prob.Empty() {
		return gocv.Mat{}, errors.New("network produced no output")
	}

	plane := gocv.GetBlobChannel(prob, 0, 0)
	defer plane.Close()

	out := gocv.NewMat()
	plane.ConvertToWithParams(&out, gocv.MatTypeCV8U, 255, 0)
	return out, nil
}

// Close releases the network.
func (m *FSRCNN) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// BackendVersion reports the linked OpenCV release.
func BackendVersion() string {
	return gocv.OpenCVVersion()
}

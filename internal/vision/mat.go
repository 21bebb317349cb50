// Package vision implements the enhancement stages and the FSRCNN model on
// top of OpenCV.
package vision

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// toMat converts img into a BGR 8UC3 matrix. The caller closes it.
func toMat(img *image.RGBA) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("to mat: %w", err)
	}
	return mat, nil
}

// toRGBA converts a BGR 8UC3 matrix back to an opaque zero-origin image.
func toRGBA(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty result matrix")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unexpected matrix type %v", mat.Type())
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("to image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// apply runs fn on the BGR matrix of src and converts its output back.
func apply(src *image.RGBA, fn func(in gocv.Mat, out *gocv.Mat) error) (*image.RGBA, error) {
	in, err := toMat(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	if err := fn(in, &out); err != nil {
		return nil, err
	}
	return toRGBA(out)
}

package capture

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Resizer scales frames to the input tensor size, either stretching them or
// letterboxing them to keep their aspect ratio
type Resizer struct {
	src       image.Point
	dest      image.Point
	letterbox bool
	// scaled holds the letterboxed frame before padding
	scaled gocv.Mat
	// area is where the scaled frame sits inside the destination when
	// letterboxing, the rest is border
	area  image.Rectangle
	scale float32
}

// NewResizer returns a Resizer from frames of srcWidth x srcHeight to
// destWidth x destHeight
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int, letterbox bool) *Resizer {

	r := &Resizer{
		src:       image.Pt(srcWidth, srcHeight),
		dest:      image.Pt(destWidth, destHeight),
		letterbox: letterbox,
		scaled:    gocv.NewMat(),
	}

	r.scale, r.area = fitInside(r.src, r.dest)

	return r
}

// fitInside returns the factor scaling src to the largest size of the same
// aspect ratio within dest, and that size centred in dest
func fitInside(src, dest image.Point) (float32, image.Rectangle) {

	sx := float32(dest.X) / float32(src.X)
	sy := float32(dest.Y) / float32(src.Y)

	size := dest

	if sx < sy {
		size.Y = int(float32(src.Y) * sx)
	} else {
		size.X = int(float32(src.X) * sy)
	}

	at := dest.Sub(size).Div(2)

	return min(sx, sy), image.Rectangle{Min: at, Max: at.Add(size)}
}

// Close frees the intermediate Mat
func (r *Resizer) Close() error {
	return r.scaled.Close()
}

// Matches reports if the Resizer was built for frames of the given size
func (r *Resizer) Matches(srcWidth, srcHeight int) bool {
	return r.src == image.Pt(srcWidth, srcHeight)
}

// Resize scales src into dest.  Frames already at the destination size are
// copied unchanged.  In letterbox mode pad is the border color
func (r *Resizer) Resize(src gocv.Mat, dest *gocv.Mat, pad color.RGBA) {

	if image.Pt(src.Cols(), src.Rows()) == r.dest {
		src.CopyTo(dest)
		return
	}

	if !r.letterbox {
		gocv.Resize(src, dest, r.dest, 0, 0, gocv.InterpolationLinear)
		return
	}

	gocv.Resize(src, &r.scaled, r.area.Size(), 0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.scaled, dest,
		r.area.Min.Y, r.dest.Y-r.area.Max.Y,
		r.area.Min.X, r.dest.X-r.area.Max.X,
		gocv.BorderConstant, pad)
}

// ScaleFactor returns the letterbox scale factor
func (r *Resizer) ScaleFactor() float32 {
	return r.scale
}

// XPad returns the letterbox border width left of the frame
func (r *Resizer) XPad() int {
	return r.area.Min.X
}

// YPad returns the letterbox border height above the frame
func (r *Resizer) YPad() int {
	return r.area.Min.Y
}

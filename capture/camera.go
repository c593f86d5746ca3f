package capture

import (
	"image/color"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"k8s.io/klog/v2"
)

// Config describes the video source and the input tensor frames are
// converted to
type Config struct {
	// Source is a camera index, eg: "0", or a video file or stream URL
	Source string
	// Width and Height are the input tensor dimensions
	Width  int
	Height int
	// CaptureWidth and CaptureHeight request a frame size from the device,
	// zero leaves the device default
	CaptureWidth  int
	CaptureHeight int
	// RGB converts frames from OpenCV's BGR channel order
	RGB bool
	// Letterbox keeps the frame aspect ratio, padding with black, instead of
	// stretching it to the tensor size
	Letterbox bool
}

// DefaultConfig returns the settings for camera 0 at 640x480
func DefaultConfig() Config {
	return Config{
		Source:        "0",
		Width:         640,
		Height:        480,
		CaptureWidth:  640,
		CaptureHeight: 480,
	}
}

// Camera captures frames from a gocv video source and converts them into
// normalized float32 input tensors in HWC layout
type Camera struct {
	cfg   Config
	vc    *gocv.VideoCapture
	frame gocv.Mat
	pre   *Preprocessor
	close sync.Once
}

// Open opens the video source of cfg.  Failing to open it is an error, a
// camera that opens but later fails to deliver frames is not
func Open(cfg Config) (*Camera, error) {

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("invalid tensor size %dx%d", cfg.Width, cfg.Height)
	}

	var src interface{} = cfg.Source

	// numeric sources are camera indexes
	if id, err := strconv.Atoi(cfg.Source); err == nil {
		src = id
	}

	vc, err := gocv.OpenVideoCapture(src)

	if err != nil {
		return nil, errors.Wrapf(err, "error opening video source %s", cfg.Source)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Errorf("video source %s did not open", cfg.Source)
	}

	if cfg.CaptureWidth > 0 && cfg.CaptureHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.CaptureWidth))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.CaptureHeight))
	}

	klog.V(1).Infof("opened video source %s, tensor %dx%d", cfg.Source, cfg.Width, cfg.Height)

	return &Camera{
		cfg:   cfg,
		vc:    vc,
		frame: gocv.NewMat(),
		pre:   NewPreprocessor(cfg.Width, cfg.Height, cfg.RGB, cfg.Letterbox),
	}, nil
}

// Capture reads the next frame and returns it as an input tensor.  It returns
// an empty tensor if no frame could be read or converted
func (c *Camera) Capture() []float32 {

	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		klog.V(2).Infof("no frame from video source %s", c.cfg.Source)
		return nil
	}

	tensor, err := c.pre.Tensor(c.frame)

	if err != nil {
		klog.V(2).Infof("converting frame: %v", err)
		return nil
	}

	return tensor
}

// Close releases the video source and Mats, it is safe to call more than once
func (c *Camera) Close() error {

	var err error

	c.close.Do(func() {
		c.pre.Close()
		c.frame.Close()
		err = c.vc.Close()
	})

	return err
}

// Preprocessor converts BGR images into normalized float32 tensors of a
// fixed size
type Preprocessor struct {
	width     int
	height    int
	rgb       bool
	letterbox bool
	resizer   *Resizer
	// working Mats reused between frames
	colorMat  gocv.Mat
	sizedMat  gocv.Mat
	scaledMat gocv.Mat
}

// NewPreprocessor returns a Preprocessor producing width x height tensors
func NewPreprocessor(width, height int, rgb, letterbox bool) *Preprocessor {
	return &Preprocessor{
		width:     width,
		height:    height,
		rgb:       rgb,
		letterbox: letterbox,
		colorMat:  gocv.NewMat(),
		sizedMat:  gocv.NewMat(),
		scaledMat: gocv.NewMat(),
	}
}

// Tensor converts img to a width x height x channels tensor with values scaled
// from [0,255] to [0,1]
func (p *Preprocessor) Tensor(img gocv.Mat) ([]float32, error) {

	if img.Empty() {
		return nil, errors.New("empty image")
	}

	src := img

	if p.rgb && img.Channels() == 3 {
		gocv.CvtColor(img, &p.colorMat, gocv.ColorBGRToRGB)
		src = p.colorMat
	}

	// frame size may change mid stream, rebuild the resizer when it does
	if p.resizer == nil || !p.resizer.Matches(src.Cols(), src.Rows()) {
		if p.resizer != nil {
			p.resizer.Close()
		}
		p.resizer = NewResizer(src.Cols(), src.Rows(), p.width, p.height, p.letterbox)
	}

	p.resizer.Resize(src, &p.sizedMat, color.RGBA{A: 255})

	p.sizedMat.ConvertToWithParams(&p.scaledMat, gocv.MatTypeCV32F, 1.0/255.0, 0)

	data, err := p.scaledMat.DataPtrFloat32()

	if err != nil {
		return nil, errors.Wrap(err, "error getting data pointer to Mat")
	}

	// copy out of C memory, the Mat is reused for the next frame
	tensor := make([]float32, len(data))
	copy(tensor, data)

	return tensor, nil
}

// Close frees the working Mats
func (p *Preprocessor) Close() {

	if p.resizer != nil {
		p.resizer.Close()
		p.resizer = nil
	}

	p.colorMat.Close()
	p.sizedMat.Close()
	p.scaledMat.Close()
}

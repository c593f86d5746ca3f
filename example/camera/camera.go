package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/swdee/go-pcienpu"
	"github.com/swdee/go-pcienpu/capture"
	"github.com/swdee/go-pcienpu/model"
	"github.com/swdee/go-pcienpu/postprocess"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	// read in cli flags
	devicePath := flag.String("d", "/dev/pcie_fpga", "PCIe accelerator device node")
	modelFile := flag.String("m", "model.tflite", "Compiled model file to upload")
	outShape := flag.String("s", "", "Output tensor shape override, eg: 1,1001, read from the model when empty")
	labelFile := flag.String("l", "", "Optional labels file, one class per line")
	source := flag.String("c", "0", "Camera index or video file/stream URL")
	width := flag.Int("width", 640, "Input tensor width")
	height := flag.Int("height", 480, "Input tensor height")
	rgb := flag.Bool("rgb", false, "Convert frames from BGR to RGB channel order")
	letterbox := flag.Bool("letterbox", false, "Letterbox frames instead of stretching them")
	pace := flag.Duration("pace", pcienpu.DefaultLoopConfig().Pace, "Delay between inference cycles")
	maxFailures := flag.Int("max-failures", 0, "Consecutive failed cycles before giving up, 0 to never give up")
	chunked := flag.Bool("chunked", false, "Split payloads larger than the register window into several commands")
	softmax := flag.Bool("softmax", false, "Apply softmax to outputs before ranking labels")
	cpus := flag.String("cpus", "", "Comma delimited CPU cores to pin to, eg: 4,5,6,7")
	dryRun := flag.Bool("dry-run", false, "Use an in memory register window instead of the device")
	query := flag.Bool("q", false, "Print the device report after loading the model")
	flag.Parse()

	if *cpus != "" {
		// affinity applies to the OS thread, keep main and the loop it runs
		// on the pinned thread
		runtime.LockOSThread()

		cores, err := parseCores(*cpus)

		if err != nil {
			klog.Fatalf("Invalid CPU core list: %v", err)
		}

		if err := pcienpu.SetCPUAffinity(cores); err != nil {
			klog.Fatalf("Failed to set CPU Affinity: %v", err)
		}
	}

	var shape model.Shape

	if *outShape != "" {
		var err error
		shape, err = model.ParseShape(*outShape)

		if err != nil {
			klog.Fatalf("Invalid output shape: %v", err)
		}
	}

	mdl, err := model.Load(*modelFile, shape)

	if err != nil {
		klog.Fatalf("Failed to load model: %v", err)
	}

	reporter := &postprocess.Reporter{
		W:       os.Stdout,
		Top:     5,
		Values:  10,
		Softmax: *softmax,
	}

	if *labelFile != "" {
		reporter.Labels, err = model.LoadLabels(*labelFile)

		if err != nil {
			klog.Fatalf("Failed to load labels: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := progressbar.NewOptions(pcienpu.WordCount(len(mdl.Data)),
		progressbar.OptionSetDescription("Uploading model"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("words"),
		progressbar.OptionClearOnFinish(),
	)

	cfg := pcienpu.DefaultSessionConfig()
	cfg.Chunked = *chunked
	cfg.Progress = func(done, total int) {
		bar.ChangeMax(total)
		bar.Set(done)
	}

	sess, err := openSession(*devicePath, *dryRun, cfg)

	if err != nil {
		klog.Fatalf("Failed to open accelerator: %v", err)
	}

	defer sess.Close()

	// without chunking every frame would fail the payload bound, stop here
	// instead of retrying forever
	inputSize := *width * *height * 3

	if err := checkPayloads(sess, inputSize, mdl.OutputSize(), *chunked); err != nil {
		klog.Fatalf("Model does not fit the register window: %v", err)
	}

	if err := sess.LoadModel(ctx, mdl.Data); err != nil {
		klog.Fatalf("Failed to send model to accelerator: %v", err)
	}

	bar.Finish()

	// input uploads happen every frame, don't draw them
	sess.SetProgress(nil)

	klog.Infof("Model %s (%s) loaded on %s", mdl.Path,
		humanize.Bytes(uint64(len(mdl.Data))), sess.Name())

	if *query {
		if err := sess.Query(os.Stdout); err != nil {
			klog.Fatalf("Failed to query session: %v", err)
		}
	}

	camCfg := capture.DefaultConfig()
	camCfg.Source = *source
	camCfg.Width = *width
	camCfg.Height = *height
	camCfg.RGB = *rgb
	camCfg.Letterbox = *letterbox

	cam, err := capture.Open(camCfg)

	if err != nil {
		klog.Fatalf("Failed to start camera capture: %v", err)
	}

	defer cam.Close()

	klog.Infof("Camera capture started on %s", *source)

	loopCfg := pcienpu.DefaultLoopConfig()
	loopCfg.Pace = *pace
	loopCfg.MaxFailures = *maxFailures

	loop := pcienpu.NewLoop(sess, cam, reporter, mdl.OutputSize(), loopCfg)

	if err := loop.Run(ctx); err != nil {
		klog.Errorf("Inference loop stopped: %v", err)
	}

	st := loop.Stats()

	klog.Infof("%s cycles, mean latency %s, %d capture failures, %d device failures",
		humanize.Comma(int64(st.Cycles)), st.MeanLatency, st.CaptureFailures, st.DeviceFailures)
}

// openSession maps the device, or an in memory window of the same size when
// running without hardware
func openSession(path string, dryRun bool, cfg pcienpu.SessionConfig) (*pcienpu.Session, error) {

	if dryRun {
		return pcienpu.NewSessionWithWindow("memory", pcienpu.NewMemWindow(pcienpu.WindowRegisters), cfg)
	}

	return pcienpu.NewSession(path, cfg)
}

// checkPayloads returns an error if the per frame input or output tensors
// exceed what one command can move and chunking is off
func checkPayloads(sess *pcienpu.Session, inputSize, outputSize int, chunked bool) error {

	if chunked {
		return nil
	}

	limit := sess.MaxPayloadBytes() / pcienpu.WordSize

	if inputSize > limit || outputSize > limit {
		return errors.Wrapf(pcienpu.ErrBufferTooLarge,
			"input of %d and output of %d words against a %d word window, use -chunked",
			inputSize, outputSize, limit)
	}

	return nil
}

// parseCores parses a comma delimited list of CPU core numbers
func parseCores(list string) ([]int, error) {

	var cores []int

	for _, field := range strings.Split(list, ",") {

		core, err := strconv.Atoi(strings.TrimSpace(field))

		if err != nil {
			return nil, err
		}

		cores = append(cores, core)
	}

	return cores, nil
}

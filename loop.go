package pcienpu

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// State is the stage of the inference cycle the Loop is in
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateTransferring
	StateRunning
	StateRetrieving
	StateConsuming
)

// String returns a readable name of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCapturing:
		return "Capturing"
	case StateTransferring:
		return "Transferring"
	case StateRunning:
		return "Running"
	case StateRetrieving:
		return "Retrieving"
	case StateConsuming:
		return "Consuming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameSource supplies one normalized input tensor per call.  An empty tensor
// means no frame could be captured this time
type FrameSource interface {
	Capture() []float32
}

// Accelerator is the device side of the loop, satisfied by *Session
type Accelerator interface {
	LoadInput(ctx context.Context, input []float32) error
	RunInference(ctx context.Context) error
	GetResult(ctx context.Context, outputSize int) ([]float32, error)
}

// ResultConsumer receives the output tensor of every successful cycle along
// with the time the accelerator took from input upload to result download
type ResultConsumer interface {
	Consume(output []float32, elapsed time.Duration)
}

// ConsumerFunc adapts a function to a ResultConsumer
type ConsumerFunc func(output []float32, elapsed time.Duration)

// Consume calls f
func (f ConsumerFunc) Consume(output []float32, elapsed time.Duration) {
	f(output, elapsed)
}

// LoopConfig holds the tunables of a Loop
type LoopConfig struct {
	// Pace is the delay inserted after each successful cycle
	Pace time.Duration
	// MaxFailures is the number of consecutive failed cycles after which Run
	// gives up and returns an error.  Zero retries forever
	MaxFailures int
	// StatsEvery is the number of successful cycles between latency reports,
	// zero disables the reports
	StatsEvery int
}

// DefaultLoopConfig returns a 100ms pace with unlimited retries
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Pace:       100 * time.Millisecond,
		StatsEvery: 100,
	}
}

// LoopStats summarizes the cycles run by a Loop
type LoopStats struct {
	Cycles          uint64
	CaptureFailures uint64
	DeviceFailures  uint64
	// MeanLatency and StdDevLatency are over the most recent window of
	// successful cycles
	MeanLatency   time.Duration
	StdDevLatency time.Duration
}

// Loop runs capture, upload, run, retrieve and consume cycles on a single
// goroutine until its context is cancelled
type Loop struct {
	dev        Accelerator
	src        FrameSource
	consumer   ResultConsumer
	outputSize int
	cfg        LoopConfig
	state      State
	// failures counts consecutive failed cycles
	failures int
	stats    LoopStats
	// latencies holds the device latency in ms of recent cycles
	latencies []float64
	// trace is called on every state change when set
	trace func(State)
}

// NewLoop returns a Loop feeding frames from src through dev and handing
// outputs of outputSize elements to consumer
func NewLoop(dev Accelerator, src FrameSource, consumer ResultConsumer,
	outputSize int, cfg LoopConfig) *Loop {

	return &Loop{
		dev:        dev,
		src:        src,
		consumer:   consumer,
		outputSize: outputSize,
		cfg:        cfg,
		state:      StateIdle,
		latencies:  make([]float64, 0, max(cfg.StatsEvery, 1)),
	}
}

// State returns the stage the loop is currently in
func (l *Loop) State() State {
	return l.state
}

// Stats returns counters and latency figures of the cycles run so far
func (l *Loop) Stats() LoopStats {

	st := l.stats

	if len(l.latencies) > 0 {
		mean, std := stat.MeanStdDev(l.latencies, nil)

		if len(l.latencies) == 1 {
			std = 0
		}

		st.MeanLatency = time.Duration(mean * float64(time.Millisecond))
		st.StdDevLatency = time.Duration(std * float64(time.Millisecond))
	}

	return st
}

// Run cycles until ctx is cancelled, which returns nil.  A failed cycle is
// logged and the next cycle starts straight away.  If LoopConfig.MaxFailures
// consecutive cycles fail Run returns the last error
func (l *Loop) Run(ctx context.Context) error {

	defer l.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.Cycle(ctx)

		if ctx.Err() != nil {
			// interrupted mid cycle
			return nil
		}

		if err != nil {
			l.failures++
			klog.Warningf("cycle failed (%d consecutive): %v", l.failures, err)

			if l.cfg.MaxFailures > 0 && l.failures >= l.cfg.MaxFailures {
				return errors.WithMessagef(err, "giving up after %d consecutive failed cycles",
					l.failures)
			}

			continue
		}

		l.failures = 0
		l.report()

		if l.cfg.Pace <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.Pace):
		}
	}
}

// Cycle runs one capture, upload, run, retrieve and consume sequence.  On
// failure the loop is left in StateCapturing ready for the next cycle
func (l *Loop) Cycle(ctx context.Context) error {

	l.setState(StateCapturing)

	frame := l.src.Capture()

	if len(frame) == 0 {
		l.stats.CaptureFailures++
		return ErrCaptureFailed
	}

	start := time.Now()

	l.setState(StateTransferring)

	if err := l.dev.LoadInput(ctx, frame); err != nil {
		return l.deviceFailed(err)
	}

	l.setState(StateRunning)

	if err := l.dev.RunInference(ctx); err != nil {
		return l.deviceFailed(err)
	}

	l.setState(StateRetrieving)

	output, err := l.dev.GetResult(ctx, l.outputSize)

	if err != nil {
		return l.deviceFailed(err)
	}

	elapsed := time.Since(start)
	klog.V(1).Infof("inference completed in %d ms", elapsed.Milliseconds())

	l.setState(StateConsuming)
	l.consumer.Consume(output, elapsed)

	l.stats.Cycles++
	l.record(elapsed)

	return nil
}

// deviceFailed counts a failed device step and returns to capturing
func (l *Loop) deviceFailed(err error) error {
	l.stats.DeviceFailures++
	during := l.state
	l.setState(StateCapturing)
	return errors.WithMessagef(err, "during %s", during)
}

func (l *Loop) setState(s State) {

	if l.state == s {
		return
	}

	l.state = s

	if l.trace != nil {
		l.trace(s)
	}
}

// record adds the latency of a cycle to the statistics window
func (l *Loop) record(elapsed time.Duration) {

	window := max(l.cfg.StatsEvery, 1)

	if len(l.latencies) >= window {
		l.latencies = l.latencies[1:]
	}

	l.latencies = append(l.latencies, float64(elapsed)/float64(time.Millisecond))
}

// report logs latency statistics every StatsEvery successful cycles
func (l *Loop) report() {

	if l.cfg.StatsEvery <= 0 || l.stats.Cycles%uint64(l.cfg.StatsEvery) != 0 {
		return
	}

	st := l.Stats()

	klog.Infof("%d cycles, latency mean %.2f ms stddev %.2f ms, %d capture and %d device failures",
		st.Cycles, float64(st.MeanLatency)/float64(time.Millisecond),
		float64(st.StdDevLatency)/float64(time.Millisecond),
		st.CaptureFailures, st.DeviceFailures)
}

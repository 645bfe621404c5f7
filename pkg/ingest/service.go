// Package ingest drives the SML decoder over a byte stream and publishes the
// resulting readings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/extractor"
	"github.com/NotCoffee418/sml_power_meter/pkg/metrics"
	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportClosed is returned by Run when the byte stream ends.
	ErrTransportClosed = sml.ErrTransportClosed
	// ErrSinkUnavailable marks a reading that never reached the sink.
	ErrSinkUnavailable = errors.New("ingest: sink unavailable")
)

// Stages of frame processing, as reported in logs.
const (
	StageValidate = "validate"
	StageDecode   = "decode"
	StageExtract  = "extract"
)

// StageError ties a frame processing failure to the stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewPipeline wires a pipeline. sink may be nil when readings only need to be
// kept in LatestReading. A nil extractor uses the default field table.
func NewPipeline(source io.Reader, x *extractor.Extractor, sink Sink, cfg Config, log *logrus.Entry) *Pipeline {
	if cfg.SinkQueueSize <= 0 {
		cfg.SinkQueueSize = DefaultSinkQueueSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if log == nil {
		log = logrus.WithField("component", "ingest")
	}
	if x == nil {
		x = extractor.New(extractor.WithLogger(log))
	}
	return &Pipeline{
		source:    source,
		extractor: x,
		sink:      sink,
		latest:    &LatestReading{},
		cfg:       cfg,
		log:       log,
	}
}

func (p *Pipeline) Latest() *LatestReading {
	return p.latest
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:     p.stats.frames.Load(),
		Readings:   p.stats.readings.Load(),
		Corrupt:    p.stats.corrupt.Load(),
		Malformed:  p.stats.malformed.Load(),
		Incomplete: p.stats.incomplete.Load(),
		Discarded:  p.stats.discarded.Load(),
		Dropped:    p.stats.dropped.Load(),
	}
}

// Run processes frames until the source ends or ctx is cancelled. It returns an
// error wrapping ErrTransportClosed in the first case and ctx.Err() in the
// second. Corrupt, malformed and incomplete frames are logged and skipped.
func (p *Pipeline) Run(ctx context.Context) error {
	if closer, ok := p.source.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			closer.Close()
		})
		defer stop()
	}

	queue := make(chan types.MeterReading, p.cfg.SinkQueueSize)
	forwarderDone := make(chan struct{})
	go p.forward(ctx, queue, forwarderDone)
	defer p.drain(queue, forwarderDone)

	opts := []sml.FramerOption{sml.WithFramerLogger(p.log)}
	if p.cfg.MaxFrameSize > 0 {
		opts = append(opts, sml.WithMaxFrameSize(p.cfg.MaxFrameSize))
	}
	framer := sml.NewFramer(p.source, opts...)
	discarded := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := framer.Next()
		if d := framer.Discarded(); d > discarded {
			p.stats.discarded.Add(uint64(d - discarded))
			metrics.FramesDiscardedTotal.Add(float64(d - discarded))
			discarded = d
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.log.WithError(err).Warn("meter stream closed")
			return err
		}
		p.stats.frames.Add(1)

		reading, err := p.ProcessFrame(raw)
		if err != nil {
			p.recordFailure(raw, err)
			continue
		}
		p.publish(reading, queue)
	}
}

// ProcessFrame validates, decodes and maps one raw frame. Errors are
// *StageError values wrapping the stage's own error.
func (p *Pipeline) ProcessFrame(raw sml.RawFrame) (types.MeterReading, error) {
	vf, err := sml.Validate(raw)
	if err != nil {
		return types.MeterReading{}, &StageError{Stage: StageValidate, Err: err}
	}
	root, err := sml.Decoder{MaxDepth: p.cfg.MaxDepth}.Decode(vf)
	if err != nil {
		return types.MeterReading{}, &StageError{Stage: StageDecode, Err: err}
	}
	reading, err := p.extractor.Extract(root)
	if err != nil {
		return types.MeterReading{}, &StageError{Stage: StageExtract, Err: err}
	}
	return reading, nil
}

func (p *Pipeline) recordFailure(raw sml.RawFrame, err error) {
	result := metrics.ResultMalformed
	switch {
	case errors.Is(err, sml.ErrCorruptFrame):
		result = metrics.ResultCorrupt
		p.stats.corrupt.Add(1)
	case errors.Is(err, extractor.ErrIncompleteReading):
		result = metrics.ResultIncomplete
		p.stats.incomplete.Add(1)
	default:
		p.stats.malformed.Add(1)
	}
	metrics.FramesTotal.WithLabelValues(result).Inc()

	entry := p.log.WithFields(logrus.Fields{
		"frame_len": len(raw),
		"result":    result,
	}).WithError(err)
	var se *StageError
	if errors.As(err, &se) {
		entry = entry.WithField("stage", se.Stage)
	}
	if p.cfg.Verbose {
		entry.Info("skipping frame")
	} else {
		entry.Debug("skipping frame")
	}
}

// publish replaces the latest reading, then offers it to the sink queue
// without blocking.
func (p *Pipeline) publish(reading types.MeterReading, queue chan<- types.MeterReading) {
	p.latest.store(reading)
	p.stats.readings.Add(1)
	metrics.FramesTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.LastReadingTimestamp.Set(float64(reading.CapturedAt.Unix()))
	metrics.TotalEnergyWattHours.Set(reading.TotalEnergy.Value)
	for i, line := range reading.Lines {
		metrics.LinePowerWatts.WithLabelValues(fmt.Sprint(i + 1)).Set(line.Value)
	}
	if p.cfg.Verbose {
		p.log.Info(reading.DisplayCompact())
	}

	if p.sink == nil {
		return
	}
	select {
	case queue <- reading:
	default:
		p.stats.dropped.Add(1)
		metrics.ReadingsDroppedTotal.WithLabelValues(metrics.ReasonQueueFull).Inc()
		p.log.WithFields(logrus.Fields{
			"captured_at": reading.CapturedAt,
			"queue_size":  cap(queue),
		}).WithError(ErrSinkUnavailable).Warn("sink queue full, dropping reading")
	}
}

// forward delivers queued readings in order. Each call gets its own timeout
// and survives cancellation of ctx so queued readings can still be written.
func (p *Pipeline) forward(ctx context.Context, queue <-chan types.MeterReading, done chan<- struct{}) {
	defer close(done)
	base := context.WithoutCancel(ctx)
	for reading := range queue {
		if p.sink == nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(base, p.cfg.SinkTimeout)
		start := time.Now()
		err := p.sink.Store(callCtx, reading)
		cancel()
		metrics.SinkDurationSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			p.stats.dropped.Add(1)
			metrics.ReadingsDroppedTotal.WithLabelValues(metrics.ReasonSinkError).Inc()
			p.log.WithField("captured_at", reading.CapturedAt).
				WithError(fmt.Errorf("%w: %w", ErrSinkUnavailable, err)).
				Warn("failed to store reading")
		}
	}
}

// drain stops the forwarder after it delivered what is queued. A sink that
// ignores its context is abandoned after one timeout per queued reading.
func (p *Pipeline) drain(queue chan types.MeterReading, done <-chan struct{}) {
	pending := len(queue)
	close(queue)
	select {
	case <-done:
	case <-time.After(time.Duration(pending+1) * p.cfg.SinkTimeout):
		p.log.WithField("pending", pending).Warn("sink did not finish, abandoning queued readings")
	}
}

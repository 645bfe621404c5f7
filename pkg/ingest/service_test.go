package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/extractor"
	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/simulator"
	"github.com/NotCoffee418/sml_power_meter/pkg/sml"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a Sink that remembers what it was given.
type collector struct {
	mu       sync.Mutex
	readings []types.MeterReading
}

func (c *collector) Store(_ context.Context, r types.MeterReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
	return nil
}

func (c *collector) all() []types.MeterReading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.MeterReading(nil), c.readings...)
}

func generate(n int) []simulator.Sample {
	g := simulator.NewGenerator(1, time.Second)
	samples := make([]simulator.Sample, n)
	for i := range samples {
		samples[i] = g.Next()
	}
	return samples
}

func stream(frames ...sml.RawFrame) *bytes.Reader {
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
	}
	return bytes.NewReader(buf.Bytes())
}

func framesOf(samples []simulator.Sample) []sml.RawFrame {
	frames := make([]sml.RawFrame, len(samples))
	for i, s := range samples {
		frames[i] = s.Frame()
	}
	return frames
}

func TestRunDeliversEveryFrameInOrder(t *testing.T) {
	samples := generate(20)
	sink := &collector{}
	p := NewPipeline(stream(framesOf(samples)...), nil, sink, Config{SinkQueueSize: len(samples)}, nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrTransportClosed)

	got := sink.all()
	require.Len(t, got, len(samples))
	for i, r := range got {
		require.InDelta(t, float64(samples[i].EnergyRaw)/10, r.TotalEnergy.Value, 1e-6)
		require.Equal(t, obis.UnitWattHour, r.TotalEnergy.Unit)
		require.Equal(t, float64(samples[i].LinesRaw[0]), r.Lines[0].Value)
	}

	latest, ok := p.Latest().Get()
	require.True(t, ok)
	require.Equal(t, got[len(got)-1], latest)

	stats := p.Stats()
	require.Equal(t, uint64(20), stats.Frames)
	require.Equal(t, uint64(20), stats.Readings)
	require.Zero(t, stats.Dropped)
}

func TestRunOnNoiseEmitsNothing(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 64*1024)
	rng.Read(noise)

	sink := &collector{}
	p := NewPipeline(bytes.NewReader(noise), nil, sink, Config{}, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrTransportClosed)

	require.Empty(t, sink.all())
	_, ok := p.Latest().Get()
	require.False(t, ok)
}

func TestRunSkipsBadFramesAndContinues(t *testing.T) {
	samples := generate(2)
	corrupt := append(sml.RawFrame{}, samples[0].Frame()...)
	corrupt[20] ^= 0x04
	incomplete := simulator.Sample{EnergyRaw: 5, OmitLines: true}.Frame()
	// a well formed frame whose payload is not a list of messages
	malformed := sml.EncodeFrame([]byte{0x62, 0x01})

	src := stream(samples[0].Frame(), corrupt, incomplete, malformed, samples[1].Frame())
	sink := &collector{}
	p := NewPipeline(src, nil, sink, Config{}, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrTransportClosed)

	require.Len(t, sink.all(), 2)
	stats := p.Stats()
	require.Equal(t, uint64(5), stats.Frames)
	require.Equal(t, uint64(1), stats.Corrupt)
	require.Equal(t, uint64(1), stats.Incomplete)
	require.Equal(t, uint64(1), stats.Malformed)
}

func TestRunDropsFrameTruncatedAtEOF(t *testing.T) {
	samples := generate(2)
	second := samples[1].Frame()
	src := stream(samples[0].Frame(), second[:len(second)/2])

	sink := &collector{}
	p := NewPipeline(src, nil, sink, Config{}, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrTransportClosed)
	require.Len(t, sink.all(), 1)
}

func TestProcessFrameReportsStage(t *testing.T) {
	p := NewPipeline(nil, nil, nil, Config{}, nil)

	frame := generate(1)[0].Frame()
	frame[len(frame)-1] ^= 0xFF
	_, err := p.ProcessFrame(frame)
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageValidate, se.Stage)
	require.ErrorIs(t, err, sml.ErrCorruptFrame)

	_, err = p.ProcessFrame(simulator.Sample{OmitLines: true}.Frame())
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageExtract, se.Stage)
	require.ErrorIs(t, err, extractor.ErrIncompleteReading)
}

func TestQueueOverflowDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	var stored sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	sink := SinkFunc(func(ctx context.Context, _ types.MeterReading) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	samples := generate(10)
	p := NewPipeline(stream(framesOf(samples)...), nil, sink, Config{SinkQueueSize: 1, SinkTimeout: 10 * time.Second}, nil)

	stored.Add(1)
	var runErr error
	go func() {
		defer stored.Done()
		runErr = p.Run(context.Background())
	}()

	// all frames are processed while the sink is stuck
	require.Eventually(t, func() bool {
		return p.Stats().Readings == uint64(len(samples))
	}, 5*time.Second, 5*time.Millisecond)

	latest, ok := p.Latest().Get()
	require.True(t, ok)
	require.InDelta(t, float64(samples[9].EnergyRaw)/10, latest.TotalEnergy.Value, 1e-6)

	close(release)
	stored.Wait()
	require.ErrorIs(t, runErr, ErrTransportClosed)

	dropped := p.Stats().Dropped
	require.GreaterOrEqual(t, dropped, uint64(len(samples)-2))
	mu.Lock()
	require.Equal(t, len(samples)-int(dropped), delivered)
	mu.Unlock()
}

func TestSinkErrorKeepsLatest(t *testing.T) {
	failing := SinkFunc(func(context.Context, types.MeterReading) error {
		return errors.New("disk full")
	})
	samples := generate(3)
	p := NewPipeline(stream(framesOf(samples)...), nil, failing, Config{}, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrTransportClosed)

	_, ok := p.Latest().Get()
	require.True(t, ok)
	require.Equal(t, uint64(3), p.Stats().Dropped)
}

func TestRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(pr, nil, nil, Config{}, nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()

	go pw.Write(generate(1)[0].Frame())
	require.Eventually(t, func() bool {
		_, ok := p.Latest().Get()
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// every field of sample k is derived from k, so a reading mixing two frames
// does not satisfy the relation
func linkedSamples(n int, base time.Time) []simulator.Sample {
	samples := make([]simulator.Sample, n)
	for k := range samples {
		at := base.Add(time.Duration(k) * time.Second)
		samples[k] = simulator.Sample{
			ServerID:  []byte{0x0A, 0x01},
			EnergyRaw: uint64(1000 + 10*k),
			LinesRaw:  [3]int32{int32(k), int32(2 * k), int32(-3 * k)},
			SecIndex:  uint32(k),
			Timestamp: &at,
		}
	}
	return samples
}

func TestLatestReadingConcurrentAccess(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := linkedSamples(200, base)
	p := NewPipeline(stream(framesOf(samples)...), nil, nil, Config{}, nil)

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				r, ok := p.Latest().Get()
				if !ok {
					continue
				}
				k := r.CapturedAt.Unix() - base.Unix()
				assert.Equal(t, types.TimeSourceMeter, r.TimeSource)
				assert.Equal(t, float64(1000+10*k), r.TotalEnergy.Value, "energy of reading %d", k)
				assert.Equal(t, [3]float64{float64(k), float64(2 * k), float64(-3 * k)},
					[3]float64{r.Lines[0].Value, r.Lines[1].Value, r.Lines[2].Value}, "lines of reading %d", k)
				if assert.NotNil(t, r.MeterSeconds) {
					assert.Equal(t, uint32(k), *r.MeterSeconds)
				}
				assert.Equal(t, obis.UnitWatt, r.Lines[2].Unit)
			}
		}()
	}

	require.ErrorIs(t, p.Run(context.Background()), ErrTransportClosed)
	close(done)
	readers.Wait()
	require.Equal(t, uint64(200), p.Stats().Readings)

	last, ok := p.Latest().Get()
	require.True(t, ok)
	require.True(t, base.Add(199*time.Second).Equal(last.CapturedAt))
}

func TestMultiSinkFansOut(t *testing.T) {
	first, second := &collector{}, &collector{}
	boom := errors.New("boom")
	m := MultiSink{first, SinkFunc(func(context.Context, types.MeterReading) error { return boom }), nil, second}

	err := m.Store(context.Background(), types.MeterReading{CapturedAt: time.Unix(1, 0)})
	require.ErrorIs(t, err, boom)
	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)
}

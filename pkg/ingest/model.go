package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/extractor"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSinkQueueSize = 16
	DefaultSinkTimeout   = 5 * time.Second
)

type Config struct {
	// SinkQueueSize bounds how many readings may wait for the sink.
	SinkQueueSize int
	// SinkTimeout bounds a single Sink.Store call.
	SinkTimeout time.Duration
	// MaxFrameSize and MaxDepth fall back to the sml package defaults when zero.
	MaxFrameSize int
	MaxDepth     int
	// Verbose logs every reading and raises recoverable frame errors to info.
	Verbose bool
}

// Pipeline reads SML frames from a byte stream and turns them into readings.
type Pipeline struct {
	source    io.Reader
	extractor *extractor.Extractor
	sink      Sink
	latest    *LatestReading
	cfg       Config
	log       *logrus.Entry
	stats     counters
}

// LatestReading holds a copy of the most recent complete reading.
type LatestReading struct {
	mu      sync.RWMutex
	reading types.MeterReading
	set     bool
}

// Stats are the pipeline's own counters since it was created.
type Stats struct {
	Frames     uint64
	Readings   uint64
	Corrupt    uint64
	Malformed  uint64
	Incomplete uint64
	Discarded  uint64
	Dropped    uint64
}

type counters struct {
	frames, readings, corrupt, malformed, incomplete, discarded, dropped atomic.Uint64
}

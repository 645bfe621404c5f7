package sml

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// RawFrame is one transport frame as read from the wire: start sequence,
// escaped payload, end sequence and checksum.
type RawFrame []byte

var (
	errRestart = errors.New("start sequence inside frame")
	errDiscard = errors.New("frame discarded")
)

// Framer cuts a continuous byte stream into RawFrames. It is not safe for
// concurrent use and cannot be rewound.
type Framer struct {
	r            *bufio.Reader
	log          *logrus.Entry
	maxFrameSize int

	// carry holds bytes already consumed from r that are read again before r.
	carry        []byte
	pendingStart bool
	discarded    int
}

type FramerOption func(*Framer)

// WithMaxFrameSize bounds the raw size of a single frame.
func WithMaxFrameSize(n int) FramerOption {
	return func(f *Framer) {
		if n > startSeqLen+endSeqLen {
			f.maxFrameSize = n
		}
	}
}

func WithFramerLogger(log *logrus.Entry) FramerOption {
	return func(f *Framer) {
		if log != nil {
			f.log = log
		}
	}
}

func NewFramer(r io.Reader, opts ...FramerOption) *Framer {
	f := &Framer{
		r:            bufio.NewReader(r),
		log:          logrus.NewEntry(logrus.StandardLogger()),
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Discarded returns how many incomplete or oversized frames were dropped.
func (f *Framer) Discarded() int {
	return f.discarded
}

// Next blocks until a complete frame has been read. Incomplete frames are
// dropped silently apart from a debug log. Once the underlying reader fails
// every call returns an error wrapping ErrTransportClosed.
func (f *Framer) Next() (RawFrame, error) {
	for {
		if !f.pendingStart {
			if err := f.hunt(); err != nil {
				return nil, err
			}
		}
		f.pendingStart = false

		frame, err := f.collect()
		switch {
		case err == nil:
			return frame, nil
		case errors.Is(err, errRestart):
			f.discarded++
			f.pendingStart = true
		case errors.Is(err, errDiscard):
			f.discarded++
		default:
			return nil, err
		}
	}
}

// hunt consumes bytes until a start sequence has been read.
func (f *Framer) hunt() error {
	var window [startSeqLen]byte
	filled := 0
	push := func(b byte) bool {
		if filled < startSeqLen {
			window[filled] = b
			filled++
		} else {
			copy(window[:], window[1:])
			window[startSeqLen-1] = b
		}
		return filled == startSeqLen &&
			bytes.Equal(window[:wordSize], escapeWord[:]) &&
			bytes.Equal(window[wordSize:], startWord[:])
	}

	for {
		b, err := f.readByte()
		if err != nil {
			return err
		}
		if push(b) {
			return nil
		}
	}
}

// collect reads aligned words after a start sequence up to and including the
// end sequence.
func (f *Framer) collect() (RawFrame, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, escapeWord[:]...)
	buf = append(buf, startWord[:]...)

	var word, next [wordSize]byte
	for {
		if err := f.readWord(&word); err != nil {
			f.log.WithField("bytes", len(buf)).Debug("stream ended inside frame, discarding")
			return nil, err
		}
		if word != escapeWord {
			buf = append(buf, word[:]...)
			if f.resync(buf, wordSize) {
				return nil, errRestart
			}
			if len(buf) > f.maxFrameSize {
				f.log.WithField("limit", f.maxFrameSize).Debug("frame exceeds size limit, discarding")
				return nil, errDiscard
			}
			continue
		}

		if err := f.readWord(&next); err != nil {
			f.log.WithField("bytes", len(buf)).Debug("stream ended inside escape sequence, discarding")
			return nil, err
		}
		switch {
		case next == escapeWord:
			buf = append(buf, word[:]...)
			buf = append(buf, next[:]...)
			if f.resync(buf, 2*wordSize) {
				return nil, errRestart
			}
			if len(buf) > f.maxFrameSize {
				f.log.WithField("limit", f.maxFrameSize).Debug("frame exceeds size limit, discarding")
				return nil, errDiscard
			}
		case next == startWord:
			f.log.WithField("bytes", len(buf)).Debug("start sequence before end of frame, restarting")
			return nil, errRestart
		case next[0] == endByte:
			buf = append(buf, word[:]...)
			buf = append(buf, next[:]...)
			return RawFrame(buf), nil
		default:
			f.log.WithField("escape", fmt.Sprintf("% X", next[:])).Debug("invalid escape sequence, discarding")
			f.unread(append(append([]byte{}, word[1:]...), next[:]...))
			return nil, errDiscard
		}
	}
}

// resync looks for a start sequence that is not word aligned in the last
// added bytes of buf. Such a sequence means bytes were lost on the line and
// the current frame can no longer be completed. The bytes following the
// start sequence are kept for the next frame.
func (f *Framer) resync(buf []byte, added int) bool {
	from := len(buf) - added - startSeqLen + 1
	if from < startSeqLen {
		from = startSeqLen
	}
	for i := from; i+startSeqLen <= len(buf); i++ {
		if i%wordSize == 0 {
			continue
		}
		if bytes.Equal(buf[i:i+wordSize], escapeWord[:]) && bytes.Equal(buf[i+wordSize:i+startSeqLen], startWord[:]) {
			f.log.WithField("offset", i).Debug("unaligned start sequence inside frame, restarting")
			f.unread(buf[i+startSeqLen:])
			return true
		}
	}
	return false
}

// unread puts b in front of the bytes not yet read.
func (f *Framer) unread(b []byte) {
	f.carry = append(append([]byte{}, b...), f.carry...)
}

func (f *Framer) readByte() (byte, error) {
	if len(f.carry) > 0 {
		b := f.carry[0]
		f.carry = f.carry[1:]
		return b, nil
	}
	b, err := f.r.ReadByte()
	if err != nil {
		return 0, transportErr(err)
	}
	return b, nil
}

func (f *Framer) readWord(w *[wordSize]byte) error {
	for i := range w {
		b, err := f.readByte()
		if err != nil {
			return err
		}
		w[i] = b
	}
	return nil
}

func transportErr(err error) error {
	return fmt.Errorf("%w: %w", ErrTransportClosed, err)
}

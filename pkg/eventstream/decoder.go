package eventstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	// ErrMalformedFrame is logged for a well-framed block whose payload is
	// not a valid event. The decoder skips it and carries on.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrIncompleteStream is returned by ReadAll when the reader ends before
	// a complete or error event arrived.
	ErrIncompleteStream = errors.New("stream ended without a terminal event")
)

var terminator = []byte(Terminator)

// Decoder reassembles frames from arbitrarily fragmented input. It owns its
// buffer and must not be shared between streams or goroutines.
type Decoder struct {
	buf     []byte
	done    bool
	skipped int
	logger  *slog.Logger
}

type DecoderOption func(*Decoder)

func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends p to the buffer and returns every event completed by it, in
// order. After an error event the buffer is cleared and all further input is
// ignored.
func (d *Decoder) Feed(p []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		idx := bytes.Index(d.buf, terminator)
		if idx < 0 {
			break
		}
		block := d.buf[:idx]
		d.buf = d.buf[idx+len(terminator):]

		evt, ok, err := parseBlock(block)
		if err != nil {
			d.skipped++
			d.logger.Warn("skipping event frame", "error", err, "frame", string(block))
			continue
		}
		if !ok {
			continue
		}
		events = append(events, evt)
		if evt.Type == TypeError {
			d.done = true
			d.buf = nil
			break
		}
	}

	if len(d.buf) == 0 {
		// drop the backing array once fully drained
		d.buf = nil
	}
	return events
}

// Done reports whether an error event has been decoded.
func (d *Decoder) Done() bool { return d.done }

// Skipped returns the number of malformed frames dropped so far.
func (d *Decoder) Skipped() int { return d.skipped }

// Buffered returns the number of bytes waiting for a terminator.
func (d *Decoder) Buffered() int { return len(d.buf) }

// parseBlock returns ok=false for blocks that carry no event (blank blocks,
// comments, other fields).
func parseBlock(block []byte) (Event, bool, error) {
	block = bytes.TrimSpace(block)
	if len(block) == 0 || !bytes.HasPrefix(block, []byte("data:")) {
		return Event{}, false, nil
	}
	payload := bytes.TrimSpace(block[len("data:"):])
	if len(payload) == 0 {
		return Event{}, false, nil
	}

	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	switch evt.Type {
	case TypeStream, TypeComplete, TypeError:
		return evt, true, nil
	default:
		return Event{}, false, fmt.Errorf("%w: unknown event type %q", ErrMalformedFrame, evt.Type)
	}
}

// ReadAll drains r through a fresh Decoder, calling fn for each event in
// order. It stops after an error event, when fn returns false, or when ctx
// is done. Reaching EOF before any terminal event yields ErrIncompleteStream.
func ReadAll(ctx context.Context, r io.Reader, fn func(Event) bool, opts ...DecoderOption) error {
	d := NewDecoder(opts...)
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, evt := range d.Feed(buf[:n]) {
				if !fn(evt) {
					return nil
				}
				if evt.Terminal() {
					return nil
				}
			}
		}

		if readErr == io.EOF {
			if d.Buffered() > 0 {
				d.logger.Warn("discarding partial frame at end of stream", "bytes", d.Buffered())
			}
			return ErrIncompleteStream
		}
		if readErr != nil {
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

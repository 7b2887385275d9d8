// Package sse decodes OpenAI-style server-sent-event streams into JSON events.
// Framing is line based: empty keepalive lines are skipped, a "data: " prefix is
// stripped, and a "[DONE]" payload terminates the stream.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// ErrMalformedBudget is returned when more consecutive lines than the configured
// budget fail to parse as JSON.
var ErrMalformedBudget = errors.New("too many consecutive malformed stream lines")

// LineReader yields raw lines of a response body. ReadLine returns io.EOF once the
// source is exhausted.
type LineReader interface {
	ReadLine() (string, error)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxMalformed bounds the number of consecutive malformed lines tolerated.
// Zero means unbounded.
func WithMaxMalformed(n int) Option {
	return func(d *Decoder) {
		d.maxMalformed = n
	}
}

// WithSkipHook registers a callback invoked for every skipped malformed line.
func WithSkipHook(hook func(line string)) Option {
	return func(d *Decoder) {
		d.onSkip = hook
	}
}

// Decoder is a forward-only cursor over the events of one stream.
// It is not safe for concurrent use.
type Decoder struct {
	lines        LineReader
	maxMalformed int
	malformed    int
	onSkip       func(line string)
	done         bool
}

// NewDecoder creates a decoder reading from lines.
func NewDecoder(lines LineReader, opts ...Option) *Decoder {
	d := &Decoder{
		lines: lines,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next event. It returns io.EOF when the stream ended, either on
// the [DONE] sentinel or when the line source closed. After io.EOF or any other
// error, Next keeps returning io.EOF without touching the source.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.done {
		return nil, io.EOF
	}

	for {
		line, err := d.lines.ReadLine()
		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}

		if line == "" {
			continue
		}

		data := payload(line)
		if data == doneSentinel {
			d.done = true
			return nil, io.EOF
		}

		if !gjson.Valid(data) {
			if d.onSkip != nil {
				d.onSkip(line)
			}
			d.malformed++
			if d.maxMalformed > 0 && d.malformed > d.maxMalformed {
				d.done = true
				return nil, fmt.Errorf("%w: %d lines", ErrMalformedBudget, d.malformed)
			}
			continue
		}

		d.malformed = 0
		return json.RawMessage(data), nil
	}
}

func payload(line string) string {
	if strings.HasPrefix(line, dataPrefix) {
		return strings.TrimSpace(line[len(dataPrefix):])
	}
	return strings.TrimSpace(line)
}

// ScannerLines adapts a response body to LineReader.
func ScannerLines(r io.Reader) LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	return &scannerLines{scanner: scanner}
}

type scannerLines struct {
	scanner *bufio.Scanner
}

func (s *scannerLines) ReadLine() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

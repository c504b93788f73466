// Package journal writes the colony journal as hourly-rotated, compressed
// JSON Lines files and reads them back.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/lifesupport/colony/server/internal/events"
)

// Codec selects the file compression.
type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec validates a codec name.
func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CodecZstd:
		return CodecZstd, nil
	case CodecLZ4:
		return CodecLZ4, nil
	}
	return "", fmt.Errorf("unknown journal codec %q (valid: zstd, lz4)", s)
}

// Ext returns the file extension for the codec.
func (c Codec) Ext() string {
	if c == CodecLZ4 {
		return ".jsonl.lz4"
	}
	return ".jsonl.zst"
}

// ErrTruncated marks a journal file whose stream has no end trailer: the
// writer is still open or the process died before Close.
var ErrTruncated = fmt.Errorf("journal stream not terminated: %w", io.ErrUnexpectedEOF)

// trailer is the last line of a cleanly closed file.
type trailer struct {
	JournalEnd bool `json:"journal_end"`
	Events     int  `json:"events"`
}

var trailerPrefix = []byte(`{"journal_end":`)

// encoder is the compressed stream under a file. Both codecs can push a
// complete block to disk without ending the stream.
type encoder interface {
	io.WriteCloser
	Flush() error
}

// Writer appends one JSON document per line to a compressed file that is
// rotated every UTC hour. Each file holds a single compressed stream; a
// file that already exists for the hour is never appended to. Every write
// is flushed through the encoder so the file is readable while open.
type Writer struct {
	baseDir string
	prefix  string
	codec   Codec
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     encoder
	w       *bufio.Writer
	written int // events in the current file
	files   []string
}

// NewWriter creates a writer. Nothing touches disk until the first Write.
func NewWriter(baseDir, prefix string, codec Codec) *Writer {
	return &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		codec:   codec,
		now:     time.Now,
	}
}

// Append writes a journal event. It implements events.EventPersister.
func (w *Writer) Append(e events.GameEvent) error {
	return w.Write(e)
}

// Write appends v as one JSON line.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.written++
	return w.enc.Flush()
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Files lists the files this writer created, oldest first.
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	path := w.freshPath(hour)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	var enc encoder
	switch w.codec {
	case CodecLZ4:
		zw := lz4.NewWriter(f)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			_ = f.Close()
			return err
		}
		enc = zw
	default:
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return err
		}
		enc = zw
	}

	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.written = 0
	w.curHour = hour
	w.files = append(w.files, path)
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		if b, err := json.Marshal(trailer{JournalEnd: true, Events: w.written}); err == nil {
			w.w.Write(b)
			w.w.WriteByte('\n')
		}
		err1 = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

// freshPath picks the first unused name for the hour.
func (w *Writer) freshPath(hour string) string {
	base := filepath.Join(w.baseDir, fmt.Sprintf("%s-%s", w.prefix, hour))
	path := base + w.codec.Ext()
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = fmt.Sprintf("%s.%d%s", base, n, w.codec.Ext())
	}
}

// ReadFile decodes every event in a journal file. The codec is taken from
// the file extension. A file without its end trailer yields the events read
// so far together with an error wrapping ErrTruncated.
func ReadFile(path string) ([]events.GameEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, CodecLZ4.Ext()):
		r = lz4.NewReader(f)
	case strings.HasSuffix(path, CodecZstd.Ext()):
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("unknown journal file type: %s", filepath.Base(path))
	}

	name := filepath.Base(path)
	var (
		out []events.GameEvent
		end *trailer
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		if bytes.HasPrefix(b, trailerPrefix) {
			end = &trailer{}
			if err := json.Unmarshal(b, end); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", name, line, err)
			}
			continue
		}
		var e events.GameEvent
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return out, fmt.Errorf("%s: %w", name, ErrTruncated)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	switch {
	case end == nil:
		return out, fmt.Errorf("%s: %w", name, ErrTruncated)
	case end.Events != len(out):
		return out, fmt.Errorf("%s: trailer counts %d events, read %d", name, end.Events, len(out))
	}
	return out, nil
}

// List returns the journal files for prefix in dir, in name order.
func List(dir, prefix string) ([]string, error) {
	var out []string
	for _, c := range []Codec{CodecZstd, CodecLZ4} {
		matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+c.Ext()))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out, nil
}

// ReadAll reads every journal file for prefix in dir, optionally keeping
// only one run. A single run comes back in sequence order, a mix of runs in
// timestamp order. Truncated files contribute what they hold and are
// reported in the returned error, which then wraps ErrTruncated.
func ReadAll(dir, prefix, runID string) ([]events.GameEvent, error) {
	files, err := List(dir, prefix)
	if err != nil {
		return nil, err
	}
	var (
		out       []events.GameEvent
		truncated []error
	)
	for _, path := range files {
		evs, err := ReadFile(path)
		if errors.Is(err, ErrTruncated) {
			truncated = append(truncated, err)
		} else if err != nil {
			return nil, err
		}
		for _, e := range evs {
			if runID == "" || e.RunID == runID {
				out = append(out, e)
			}
		}
	}
	if runID != "" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	}
	return out, errors.Join(truncated...)
}

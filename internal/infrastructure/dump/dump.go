// Package dump writes bus diagnostics to files.
//
// A dump is a JSON-lines file: one Header line followed by one line per
// record. Names ending in ".zst" are zstd-compressed. Files are written to a
// temporary name in the target directory and renamed into place, so readers
// never see a partial dump.
package dump

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/infrastructure/logging"
)

// Kind names what a dump contains.
type Kind string

const (
	KindRoutes Kind = "routes"
	KindPipes  Kind = "pipes"
	KindMap    Kind = "map"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRoutes, KindPipes, KindMap:
		return true
	}
	return false
}

// DefaultName is the file used when a dump request names none.
func (k Kind) DefaultName() string {
	switch k {
	case KindRoutes:
		return "sb_route.jsonl"
	case KindPipes:
		return "sb_pipe.jsonl"
	case KindMap:
		return "sb_msgmap.jsonl"
	}
	return string(k) + ".jsonl"
}

// CompressedSuffix selects zstd compression.
const CompressedSuffix = ".zst"

var (
	ErrUnknownKind = errors.New("unknown dump kind")
	ErrBadName     = errors.New("dump name must be a local file name")
)

// Header is the first line of every dump.
type Header struct {
	Kind     Kind      `json:"kind"`
	Instance string    `json:"instance"`
	Created  time.Time `json:"created"`
	Records  int       `json:"records"`
}

// Result describes a written dump.
type Result struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
	Bytes   int64  `json:"bytes"`
}

// Writer writes dumps into one directory.
type Writer struct {
	dir      string
	instance string
	log      *logging.Logger
	now      func() time.Time
}

// NewWriter creates a writer for dir, stamping instance into every header.
func NewWriter(dir, instance string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		dir:      dir,
		instance: instance,
		log:      logger.Named("dump"),
		now:      time.Now,
	}
}

// Dir is the output directory.
func (w *Writer) Dir() string { return w.dir }

// Path resolves name for kind inside the output directory.
func (w *Writer) Path(kind Kind, name string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if name == "" {
		name = kind.DefaultName()
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(w.dir, name), nil
}

// Write dumps records of kind to name (or the kind's default file).
func Write[T any](w *Writer, kind Kind, name string, records []T) (Result, error) {
	path, err := w.Path(kind, name)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create dump directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dump-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hdr := Header{Kind: kind, Instance: w.instance, Created: w.now().UTC(), Records: len(records)}
	if err := encode(tmp, strings.HasSuffix(path, CompressedSuffix), hdr, records); err != nil {
		tmp.Close()
		return Result{}, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close dump: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Result{}, fmt.Errorf("failed to move dump into place: %w", err)
	}

	res := Result{Path: path, Records: len(records), Bytes: info.Size()}
	w.log.Info("Dump written",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int("records", res.Records),
		zap.Int64("bytes", res.Bytes),
	)
	return res, nil
}

func encode[T any](f *os.File, compress bool, hdr Header, records []T) error {
	bw := bufio.NewWriter(f)
	var out io.Writer = bw
	var zw *zstd.Encoder
	if compress {
		var err error
		zw, err = zstd.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		out = zw
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("failed to encode dump header: %w", err)
	}
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush dump: %w", err)
	}
	return f.Sync()
}

// Read loads a dump written by Write.
func Read[T any](path string) (Header, []T, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	var in io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, CompressedSuffix) {
		zr, err := zstd.NewReader(in)
		if err != nil {
			return Header{}, nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	dec := json.NewDecoder(in)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return Header{}, nil, fmt.Errorf("failed to decode dump header: %w", err)
	}
	records := make([]T, 0, hdr.Records)
	for {
		var rec T
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return hdr, records, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return hdr, records, nil
}

// Package artifact stores captured raw inputs as zstd files so an analysis
// can be repeated offline, and reads inputs back whether compressed or not.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Ext is appended to every stored artifact.
const Ext = ".zst"

// manifestName is the index written next to the artifacts.
const manifestName = "manifest.json"

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ErrInvalidName is returned by Save for an empty name or one with path
// elements.
var ErrInvalidName = errors.New("invalid artifact name")

// Entry describes one stored artifact.
type Entry struct {
	Name       string    `json:"name"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Compressed int64     `json:"compressed"`
	Saved      time.Time `json:"saved"`
}

// Manifest lists what a run captured.
type Manifest struct {
	RunID   string  `json:"run_id,omitempty"`
	Entries []Entry `json:"entries"`
}

// Store writes artifacts into a directory. It is safe for concurrent use.
type Store struct {
	dir     string
	runID   string
	encoder *zstd.Encoder

	mu      sync.Mutex
	entries map[string]Entry
}

// NewStore creates dir if needed.
func NewStore(dir, runID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, runID: runID, encoder: enc, entries: make(map[string]Entry)}, nil
}

// Dir is the output directory.
func (s *Store) Dir() string { return s.dir }

// Save compresses data into <dir>/<name>.zst and returns the file path.
func (s *Store) Save(name string, data []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))

	path := filepath.Join(s.dir, name+Ext)
	if err := writeAtomic(path, compressed); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}

	s.mu.Lock()
	s.entries[name] = Entry{
		Name:       name,
		File:       filepath.Base(path),
		Size:       int64(len(data)),
		Compressed: int64(len(compressed)),
		Saved:      time.Now().UTC(),
	}
	s.mu.Unlock()
	return path, nil
}

// Manifest returns the artifacts saved so far, sorted by name.
func (s *Store) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Manifest{RunID: s.runID, Entries: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		m.Entries = append(m.Entries, e)
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
	return m
}

// Close writes the manifest and releases the encoder.
func (s *Store) Close() error {
	data, err := json.MarshalIndent(s.Manifest(), "", "  ")
	if err != nil {
		return err
	}
	werr := writeAtomic(filepath.Join(s.dir, manifestName), data)
	cerr := s.encoder.Close()
	return errors.Join(werr, cerr)
}

// writeAtomic writes to a temp file first, then renames it into place.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// ReadFile reads an input file, decompressing it when it is zstd.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, Ext) && !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	return Decode(data)
}

// Decode decompresses zstd data.
func Decode(data []byte) ([]byte, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// Package diagnostics writes quarantined fact chunks and rejected rows to
// disk for inspection. Nothing written here is read back by the pipeline.
package diagnostics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry kinds.
const (
	KindFailed   = "failed"
	KindRejected = "rejected"
)

// Entry describes one file written by a sink.
type Entry struct {
	File   string `yaml:"file"`
	Chunk  int    `yaml:"chunk"`
	Kind   string `yaml:"kind"`
	Rows   int    `yaml:"rows"`
	Reason string `yaml:"reason"`
}

// Manifest is the index written next to the diagnostic files.
type Manifest struct {
	RunID     string    `yaml:"run_id"`
	CreatedAt time.Time `yaml:"created_at"`
	Entries   []Entry   `yaml:"entries"`
}

// Sink receives failed chunks and rejected rows for one run.
type Sink interface {
	// Failed records a chunk that could not be resolved, with its
	// pre-join rows and the failure reason.
	Failed(chunk int, header []string, rows [][]string, reason string) error
	// Rejected records rows missing one or more surrogate keys.
	Rejected(chunk int, header []string, rows [][]string) error
	// Close writes the manifest and returns the directory written to, or
	// "" when nothing was written.
	Close() (string, error)
}

// FileSink writes CSV files and a YAML manifest under <dir>/<run timestamp>/.
// The directory is created on first write.
type FileSink struct {
	root    string
	runID   string
	started time.Time

	mu      sync.Mutex
	created bool
	entries []Entry
}

// NewFileSink returns a sink rooted at dir for the given run.
func NewFileSink(dir, runID string, started time.Time) *FileSink {
	return &FileSink{root: dir, runID: runID, started: started.UTC()}
}

// Dir returns the run directory, whether or not it exists yet. The name is
// the start time followed by the first eight characters of the run id.
func (s *FileSink) Dir() string {
	id := s.runID
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(s.root, s.started.Format("20060102T150405Z")+"-"+id)
}

func (s *FileSink) Failed(chunk int, header []string, rows [][]string, reason string) error {
	cols := append(append([]string{}, header...), "error")
	return s.write(Entry{Chunk: chunk, Kind: KindFailed, Reason: reason}, cols, rows, reason)
}

func (s *FileSink) Rejected(chunk int, header []string, rows [][]string) error {
	return s.write(Entry{Chunk: chunk, Kind: KindRejected, Reason: "missing surrogate key"}, header, rows, "")
}

func (s *FileSink) write(e Entry, header []string, rows [][]string, suffix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDir(); err != nil {
		return err
	}

	e.File = fmt.Sprintf("chunk-%04d-%s.csv", e.Chunk, e.Kind)
	e.Rows = len(rows)

	f, err := os.Create(filepath.Join(s.Dir(), e.File))
	if err != nil {
		return eris.Wrapf(err, "diagnostics: create %s", e.File)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "diagnostics: write header %s", e.File)
	}
	for _, row := range rows {
		if suffix != "" {
			row = append(append([]string{}, row...), suffix)
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "diagnostics: write row %s", e.File)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "diagnostics: flush %s", e.File)
	}

	s.entries = append(s.entries, e)
	zap.L().Warn("diagnostics: chunk quarantined",
		zap.String("file", e.File),
		zap.String("kind", e.Kind),
		zap.Int("rows", e.Rows),
	)
	return nil
}

func (s *FileSink) ensureDir() error {
	if s.created {
		return nil
	}
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return eris.Wrapf(err, "diagnostics: create dir %s", s.Dir())
	}
	s.created = true
	return nil
}

func (s *FileSink) Close() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return "", nil
	}

	data, err := yaml.Marshal(Manifest{RunID: s.runID, CreatedAt: s.started, Entries: s.entries})
	if err != nil {
		return "", eris.Wrap(err, "diagnostics: marshal manifest")
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "manifest.yaml"), data, 0o644); err != nil {
		return "", eris.Wrap(err, "diagnostics: write manifest")
	}
	return s.Dir(), nil
}

// ReadManifest loads the manifest from a run directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "diagnostics: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "diagnostics: parse manifest")
	}
	return &m, nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Failed(int, []string, [][]string, string) error { return nil }
func (Nop) Rejected(int, []string, [][]string) error       { return nil }
func (Nop) Close() (string, error)                         { return "", nil }

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = Nop{}
)

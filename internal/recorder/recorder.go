package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "traces"
)

// Event represents a single record in a run trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	ItemID    string      `json:"item_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder writes one JSONL file per batch run and keeps only the newest traces.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	path     string
	basePath string
	keep     int
}

// NewRecorder creates a recorder instance.
// It ensures the directory exists. keep <= 0 means MaxRotatedFiles.
func NewRecorder(basePath string, keep int) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if keep <= 0 {
		keep = MaxRotatedFiles
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
		keep:     keep,
	}, nil
}

// Start begins the trace of a new run, rotating old files first.
func (r *Recorder) Start(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	r.file = f
	r.path = path
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log writes an event to the current trace file. Without a started run it is a no-op.
func (r *Recorder) Log(eventType, itemID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}

	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		ItemID:    itemID,
		Data:      data,
	})
}

// Path returns the file of the current or last run.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// rotate keeps the newest keep-1 traces to make room for the next one.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})

	for i := r.keep - 1; i >= 0 && i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}

// Package perf collects performance and parameter statistics of a run and dumps
// them as YAML or JSON.
package perf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/plssvm/internal/version"
)

// Well-known categories.
const (
	CategoryParameter = "parameter"
	CategoryBackend   = "backend"
	CategoryCG        = "cg"
	CategoryTiming    = "timing"
)

// Entry is one tracked value.
type Entry struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
}

// MetaData describes the run a set of entries belongs to.
type MetaData struct {
	ID        string `json:"id" yaml:"id"`
	Date      string `json:"date" yaml:"date"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Tracker collects entries. A nil *Tracker is valid and ignores everything.
type Tracker struct {
	mu      sync.Mutex
	meta    MetaData
	entries []Entry
}

// New creates a tracker with a fresh run id.
func New() *Tracker {
	info := version.Resolve()
	commit := info.Commit
	if commit == "" {
		commit = "unknown"
	}
	return &Tracker{
		meta: MetaData{
			ID:        uuid.NewString(),
			Date:      time.Now().Format(time.DateTime),
			Version:   info.Version,
			Commit:    commit,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
	}
}

// ID is the run id.
func (t *Tracker) ID() string {
	if t == nil {
		return ""
	}
	return t.meta.ID
}

// Add records value under category/name. Re-adding a name appends a new entry.
func (t *Tracker) Add(category, name string, value any) {
	if t == nil {
		return
	}
	if d, ok := value.(time.Duration); ok {
		value = d.String()
	}
	t.mu.Lock()
	t.entries = append(t.entries, Entry{Category: category, Name: name, Value: value})
	t.mu.Unlock()
}

// Time starts a stop-watch; the returned func records the elapsed time.
//
//	defer tracker.Time(perf.CategoryTiming, "learn")()
func (t *Tracker) Time(category, name string) func() {
	if t == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		t.Add(category, name, time.Since(start))
	}
}

// Entries returns a copy of the tracked entries in insertion order.
func (t *Tracker) Entries() []Entry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the last value recorded under category/name.
func (t *Tracker) Lookup(category, name string) (any, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Category == category && t.entries[i].Name == name {
			return t.entries[i].Value, true
		}
	}
	return nil, false
}

// WriteYAML writes one YAML document ("---" prefixed) with the meta data block
// followed by one mapping per category in first-seen order.
func (t *Tracker) WriteYAML(w io.Writer) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	root := &yaml.Node{Kind: yaml.MappingNode}
	meta := &yaml.Node{}
	if err := meta.Encode(t.meta); err != nil {
		return fmt.Errorf("encode meta data: %w", err)
	}
	root.Content = append(root.Content, scalar("meta_data"), meta)

	groups := map[string]*yaml.Node{}
	for _, e := range t.entries {
		g, ok := groups[e.Category]
		if !ok {
			g = &yaml.Node{Kind: yaml.MappingNode}
			groups[e.Category] = g
			root.Content = append(root.Content, scalar(e.Category), g)
		}
		v := &yaml.Node{}
		if err := v.Encode(e.Value); err != nil {
			return fmt.Errorf("encode %s.%s: %w", e.Category, e.Name, err)
		}
		g.Content = append(g.Content, scalar(e.Name), v)
	}

	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

type jsonDump struct {
	MetaData MetaData `json:"meta_data"`
	Entries  []Entry  `json:"entries"`
}

// WriteJSON writes the tracker as a single JSON object.
func (t *Tracker) WriteJSON(w io.Writer) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	dump := jsonDump{MetaData: t.meta, Entries: append([]Entry(nil), t.entries...)}
	t.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}

// Save appends the tracker to path. Files ending in .json are overwritten with
// a JSON dump instead, since JSON has no multi-document form.
func (t *Tracker) Save(path string) error {
	if t == nil {
		return nil
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("couldn't save performance tracking results in %q: %w", path, err)
		}
		defer f.Close()
		return t.WriteJSON(f)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("couldn't save performance tracking results in %q: %w", path, err)
	}
	defer f.Close()
	return t.WriteYAML(f)
}

type trackerKey struct{}

// WithContext adds the tracker to the context.
func WithContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker stored in ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

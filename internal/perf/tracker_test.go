package perf

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func TestNilTrackerIsNoop(t *testing.T) {
	t.Parallel()
	var tr *Tracker
	tr.Add(CategoryCG, "iterations", 3)
	tr.Time(CategoryTiming, "learn")()
	if tr.Entries() != nil {
		t.Fatalf("nil tracker must not record")
	}
	if err := tr.Save(filepath.Join(t.TempDir(), "x.yaml")); err != nil {
		t.Fatalf("save on nil tracker: %v", err)
	}
	if FromContext(context.Background()) != nil {
		t.Fatalf("empty context must yield nil tracker")
	}
}

func TestYAMLGroupsByCategory(t *testing.T) {
	t.Parallel()
	tr := New()
	if _, err := uuid.Parse(tr.ID()); err != nil {
		t.Fatalf("run id is not a uuid: %v", err)
	}
	tr.Add(CategoryParameter, "kernel_type", "rbf")
	tr.Add(CategoryCG, "iterations", 12)
	tr.Add(CategoryParameter, "cost", 0.5)
	tr.Add(CategoryTiming, "learn", 1500*time.Millisecond)

	var buf bytes.Buffer
	if err := tr.WriteYAML(&buf); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "---\n") {
		t.Fatalf("missing document separator:\n%s", buf.String())
	}

	var doc map[string]map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if doc["parameter"]["kernel_type"] != "rbf" || doc["parameter"]["cost"] != 0.5 {
		t.Fatalf("unexpected parameter group: %v", doc["parameter"])
	}
	if doc["cg"]["iterations"] != 12 {
		t.Fatalf("unexpected cg group: %v", doc["cg"])
	}
	if doc["timing"]["learn"] != "1.5s" {
		t.Fatalf("durations must be rendered as strings: %v", doc["timing"])
	}
	if doc["meta_data"]["id"] != tr.ID() {
		t.Fatalf("meta data id mismatch: %v", doc["meta_data"])
	}
}

func TestSaveAppendsYAMLDocuments(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "perf.yaml")
	for range 2 {
		tr := New()
		tr.Add(CategoryCG, "residual", 0.5)
		if err := tr.Save(path); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(raw), "---\n"); n != 2 {
		t.Fatalf("expected 2 documents, got %d", n)
	}
}

func TestSaveJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "perf.json")
	tr := New()
	tr.Add(CategoryBackend, "backend", "openmp")
	ctx := WithContext(context.Background(), tr)
	FromContext(ctx).Add(CategoryBackend, "devices", 2)
	if err := tr.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var dump struct {
		MetaData MetaData `json:"meta_data"`
		Entries  []Entry  `json:"entries"`
	}
	if err := json.Unmarshal(raw, &dump); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dump.Entries) != 2 || dump.Entries[1].Name != "devices" {
		t.Fatalf("unexpected entries: %+v", dump.Entries)
	}
	if v, ok := tr.Lookup(CategoryBackend, "backend"); !ok || v != "openmp" {
		t.Fatalf("lookup = %v, %v", v, ok)
	}
}

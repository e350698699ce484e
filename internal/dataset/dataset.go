// Package dataset reads and writes LIBSVM sparse data files:
//
//	<label> <index>:<value> <index>:<value> ...
//
// Indices are 1-based and features that are not listed are zero. The label is
// optional, but either every line carries one or none does.
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

// Set is a parsed data file.
type Set[T csvm.Real] struct {
	Points [][]T
	// Labels holds the label of each point as read from the file, or nil for
	// unlabelled data.
	Labels      []float64
	NumFeatures int
}

// Labelled reports whether the file carried labels.
func (s *Set[T]) Labelled() bool { return s.Labels != nil }

// Binary maps the labels to +1 and -1. The larger of the two distinct labels
// becomes +1. classes holds the original values of +1 and -1.
func (s *Set[T]) Binary() (labels []T, classes [2]float64, err error) {
	if !s.Labelled() {
		return nil, classes, svmerr.InvalidData("binary_labels", "data set has no labels")
	}
	distinct := slices.Compact(slices.Sorted(slices.Values(s.Labels)))
	if len(distinct) != 2 {
		return nil, classes, svmerr.InvalidData("binary_labels", "exactly two distinct labels are required, got %d", len(distinct))
	}
	classes = [2]float64{distinct[1], distinct[0]}
	labels = make([]T, len(s.Labels))
	for i, l := range s.Labels {
		if l == classes[0] {
			labels[i] = 1
		} else {
			labels[i] = -1
		}
	}
	return labels, classes, nil
}

// Original maps a ±1 prediction back to the class value it stands for.
func Original[T csvm.Real](pred T, classes [2]float64) float64 {
	if pred > 0 {
		return classes[0]
	}
	return classes[1]
}

type line struct {
	num  int
	text []byte
}

type parsed[T csvm.Real] struct {
	label    float64
	hasLabel bool
	features []T
}

func bitSize[T csvm.Real]() int {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return 32
	}
	return 64
}

// Parse parses a whole LIBSVM file. Blank lines and lines starting with '#'
// are skipped. Lines are parsed concurrently.
func Parse[T csvm.Real](data []byte) (*Set[T], error) {
	var lines []line
	num := 0
	for raw := range bytes.Lines(data) {
		num++
		text := bytes.TrimSpace(raw)
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		lines = append(lines, line{num: num, text: text})
	}
	if len(lines) == 0 {
		return nil, svmerr.InvalidData("parse_data", "data file contains no data points")
	}

	rows := make([]parsed[T], len(lines))
	workers := runtime.GOMAXPROCS(0)
	chunk := max(256, (len(lines)+workers-1)/workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for begin := 0; begin < len(lines); begin += chunk {
		end := min(begin+chunk, len(lines))
		g.Go(func() error {
			for i := begin; i < end; i++ {
				p, err := parseLine[T](lines[i])
				if err != nil {
					return err
				}
				rows[i] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &Set[T]{Points: make([][]T, len(rows))}
	labelled := rows[0].hasLabel
	if labelled {
		set.Labels = make([]float64, len(rows))
	}
	for i, r := range rows {
		if r.hasLabel != labelled {
			return nil, svmerr.InvalidData("parse_data", "line %d: either all or no data points must have a label", lines[i].num)
		}
		set.NumFeatures = max(set.NumFeatures, len(r.features))
		set.Points[i] = r.features
		if labelled {
			set.Labels[i] = r.label
		}
	}
	if set.NumFeatures == 0 {
		return nil, svmerr.InvalidData("parse_data", "data file contains no features")
	}
	for i, p := range set.Points {
		if len(p) < set.NumFeatures {
			set.Points[i] = append(p, make([]T, set.NumFeatures-len(p))...)
		}
	}
	return set, nil
}

func parseLine[T csvm.Real](l line) (parsed[T], error) {
	var p parsed[T]
	fields := strings.Fields(string(l.text))
	if !strings.Contains(fields[0], ":") {
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return p, svmerr.Wrap(svmerr.KindInvalidData, "parse_data", err, "line %d: invalid label %q", l.num, fields[0])
		}
		p.label, p.hasLabel = v, true
		fields = fields[1:]
	}
	prev := 0
	for _, f := range fields {
		is, vs, ok := strings.Cut(f, ":")
		if !ok {
			return p, svmerr.InvalidData("parse_data", "line %d: malformed feature %q", l.num, f)
		}
		idx, err := strconv.Atoi(is)
		if err != nil || idx < 1 {
			return p, svmerr.InvalidData("parse_data", "line %d: invalid feature index %q", l.num, is)
		}
		if idx <= prev {
			return p, svmerr.InvalidData("parse_data", "line %d: feature indices must be strictly increasing (%d after %d)", l.num, idx, prev)
		}
		prev = idx
		v, err := strconv.ParseFloat(vs, bitSize[T]())
		if err != nil {
			return p, svmerr.Wrap(svmerr.KindInvalidData, "parse_data", err, "line %d: invalid feature value %q", l.num, vs)
		}
		if len(p.features) < idx {
			p.features = append(p.features, make([]T, idx-len(p.features))...)
		}
		p.features[idx-1] = T(v)
	}
	return p, nil
}

// Read parses a LIBSVM file from r.
func Read[T csvm.Real](r io.Reader) (*Set[T], error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return Parse[T](data)
}

// Load parses the LIBSVM file at path.
func Load[T csvm.Real](path string) (*Set[T], error) {
	m, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer func() { _ = m.close() }()
	return Parse[T](m.data)
}

// Write writes s in LIBSVM format, omitting zero features. Labels are written
// when s is labelled.
func Write[T csvm.Real](w io.Writer, s *Set[T]) error {
	bw := bufio.NewWriter(w)
	var buf []byte
	for i, p := range s.Points {
		buf = buf[:0]
		if s.Labelled() {
			buf = strconv.AppendFloat(buf, s.Labels[i], 'g', -1, 64)
		}
		for j, v := range p {
			if v == 0 {
				continue
			}
			if len(buf) > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendInt(buf, int64(j+1), 10)
			buf = append(buf, ':')
			buf = strconv.AppendFloat(buf, float64(v), 'g', -1, bitSize[T]())
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes s to path.
func Save[T csvm.Real](path string, s *Set[T]) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	if err := Write(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	return f.Close()
}

// WriteLabels writes one label per line, the format of a prediction output file.
func WriteLabels(w io.Writer, labels []float64) error {
	bw := bufio.NewWriter(w)
	for _, l := range labels {
		if _, err := bw.WriteString(strconv.FormatFloat(l, 'g', -1, 64) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

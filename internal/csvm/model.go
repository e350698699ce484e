package csvm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// Model is a trained binary LS-SVM in LIBSVM terms. Every training point is a
// support vector; Alpha[i] is the signed coefficient of SV[i].
type Model[T Real] struct {
	Param Parameter
	// Labels are the original class labels mapped to +1 and -1, in that order.
	Labels [2]float64
	SV     [][]T
	Alpha  []T
	// Y is the ±1 class of each support vector.
	Y   []T
	Rho T
}

// NumFeatures is the dimension of the support vectors.
func (m *Model[T]) NumFeatures() int {
	if len(m.SV) == 0 {
		return 0
	}
	return len(m.SV[0])
}

func bitSize[T Real]() int {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return 32
	}
	return 64
}

func formatReal[T Real](v T) string {
	return strconv.FormatFloat(float64(v), 'g', -1, bitSize[T]())
}

// WriteModel writes m in the LIBSVM text format. Support vectors of the +1
// class are written first; feature indices are 1-based.
func WriteModel[T Real](w io.Writer, m *Model[T]) error {
	if !m.Param.Kernel.valid() {
		return svmerr.UnsupportedKernelType("write_model", "unknown kernel type %d", int(m.Param.Kernel))
	}
	bw := bufio.NewWriter(w)
	nPos, nNeg := 0, 0
	for _, y := range m.Y {
		if y > 0 {
			nPos++
		} else {
			nNeg++
		}
	}

	fmt.Fprintf(bw, "svm_type c_svc\n")
	fmt.Fprintf(bw, "kernel_type %s\n", m.Param.Kernel)
	switch m.Param.Kernel {
	case Polynomial:
		fmt.Fprintf(bw, "degree %d\n", m.Param.Degree)
		fmt.Fprintf(bw, "gamma %s\n", strconv.FormatFloat(m.Param.Gamma, 'g', -1, 64))
		fmt.Fprintf(bw, "coef0 %s\n", strconv.FormatFloat(m.Param.Coef0, 'g', -1, 64))
	case RBF:
		fmt.Fprintf(bw, "gamma %s\n", strconv.FormatFloat(m.Param.Gamma, 'g', -1, 64))
	}
	fmt.Fprintf(bw, "nr_class 2\n")
	fmt.Fprintf(bw, "total_sv %d\n", len(m.SV))
	fmt.Fprintf(bw, "rho %s\n", formatReal(m.Rho))
	fmt.Fprintf(bw, "label %s %s\n", strconv.FormatFloat(m.Labels[0], 'g', -1, 64), strconv.FormatFloat(m.Labels[1], 'g', -1, 64))
	fmt.Fprintf(bw, "nr_sv %d %d\n", nPos, nNeg)
	fmt.Fprintf(bw, "SV\n")

	writeSV := func(i int) {
		bw.WriteString(formatReal(m.Alpha[i]))
		for f, v := range m.SV[i] {
			bw.WriteByte(' ')
			bw.WriteString(strconv.Itoa(f + 1))
			bw.WriteByte(':')
			bw.WriteString(formatReal(v))
		}
		bw.WriteByte('\n')
	}
	for i, y := range m.Y {
		if y > 0 {
			writeSV(i)
		}
	}
	for i, y := range m.Y {
		if y <= 0 {
			writeSV(i)
		}
	}
	return bw.Flush()
}

// SaveModel writes m to path.
func SaveModel[T Real](path string, m *Model[T]) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if err := WriteModel(f, m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadModel parses a LIBSVM model. Sparse support vector lines are accepted;
// missing features are zero.
func ReadModel[T Real](r io.Reader) (*Model[T], error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<28)

	m := &Model[T]{Param: DefaultParameter(), Labels: [2]float64{1, -1}}
	totalSV, nrSV := -1, [2]int{-1, -1}
	haveKernel, haveRho := false, false
	line := 0

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if text == "SV" {
			break
		}
		key, value, _ := strings.Cut(text, " ")
		value = strings.TrimSpace(value)
		var err error
		switch key {
		case "svm_type":
			if value != "c_svc" {
				return nil, svmerr.ModelFormat("read_model", "line %d: unsupported svm_type %q", line, value)
			}
		case "kernel_type":
			m.Param.Kernel, err = ParseKernelType(value)
			haveKernel = true
		case "degree":
			m.Param.Degree, err = strconv.Atoi(value)
		case "gamma":
			m.Param.Gamma, err = strconv.ParseFloat(value, 64)
		case "coef0":
			m.Param.Coef0, err = strconv.ParseFloat(value, 64)
		case "nr_class":
			if value != "2" {
				return nil, svmerr.ModelFormat("read_model", "line %d: only binary models are supported, got nr_class %s", line, value)
			}
		case "total_sv":
			totalSV, err = strconv.Atoi(value)
		case "rho":
			var rho float64
			rho, err = strconv.ParseFloat(value, bitSize[T]())
			m.Rho = T(rho)
			haveRho = true
		case "label":
			fields := strings.Fields(value)
			if len(fields) != 2 {
				return nil, svmerr.ModelFormat("read_model", "line %d: expected two labels, got %d", line, len(fields))
			}
			for i, fv := range fields {
				if m.Labels[i], err = strconv.ParseFloat(fv, 64); err != nil {
					break
				}
			}
		case "nr_sv":
			fields := strings.Fields(value)
			if len(fields) != 2 {
				return nil, svmerr.ModelFormat("read_model", "line %d: expected two nr_sv values, got %d", line, len(fields))
			}
			for i, fv := range fields {
				if nrSV[i], err = strconv.Atoi(fv); err != nil {
					break
				}
			}
		case "probA", "probB":
		default:
			return nil, svmerr.ModelFormat("read_model", "line %d: unknown header entry %q", line, key)
		}
		if err != nil {
			if svmerr.Location(err) != "" {
				return nil, err
			}
			return nil, svmerr.Wrap(svmerr.KindModelFormat, "read_model", err, "line %d: invalid value for %s", line, key)
		}
	}
	if !haveKernel || !haveRho || totalSV < 0 {
		return nil, svmerr.ModelFormat("read_model", "missing kernel_type, rho or total_sv header")
	}

	numFeatures := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		a, err := strconv.ParseFloat(fields[0], bitSize[T]())
		if err != nil {
			return nil, svmerr.Wrap(svmerr.KindModelFormat, "read_model", err, "line %d: invalid coefficient", line)
		}
		row := make([]T, numFeatures)
		for _, fv := range fields[1:] {
			is, vs, ok := strings.Cut(fv, ":")
			if !ok {
				return nil, svmerr.ModelFormat("read_model", "line %d: malformed feature %q", line, fv)
			}
			idx, err := strconv.Atoi(is)
			if err != nil || idx < 1 {
				return nil, svmerr.ModelFormat("read_model", "line %d: invalid feature index %q", line, is)
			}
			v, err := strconv.ParseFloat(vs, bitSize[T]())
			if err != nil {
				return nil, svmerr.Wrap(svmerr.KindModelFormat, "read_model", err, "line %d: invalid feature value", line)
			}
			for len(row) < idx {
				row = append(row, 0)
			}
			row[idx-1] = T(v)
		}
		numFeatures = max(numFeatures, len(row))
		m.SV = append(m.SV, row)
		m.Alpha = append(m.Alpha, T(a))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	if len(m.SV) != totalSV {
		return nil, svmerr.ModelFormat("read_model", "total_sv is %d but %d support vectors were read", totalSV, len(m.SV))
	}
	for i, row := range m.SV {
		for len(row) < numFeatures {
			row = append(row, 0)
		}
		m.SV[i] = row
	}

	// The writer emits the +1 class first; nr_sv tells where the -1 block starts.
	nPos := nrSV[0]
	if nPos < 0 || nPos > len(m.SV) {
		nPos = len(m.SV)
	}
	m.Y = make([]T, len(m.SV))
	for i := range m.Y {
		if i < nPos {
			m.Y[i] = 1
		} else {
			m.Y[i] = -1
		}
	}
	return m, nil
}

// LoadModel reads the model stored at path.
func LoadModel[T Real](path string) (*Model[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	return ReadModel[T](f)
}

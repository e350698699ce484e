// Package tiling holds the block-size tuning configuration and the execution
// ranges (grid and block dimensions) derived from it.
package tiling

import (
	"fmt"
)

// Default block sizes.
const (
	DefaultThreadBlockSize   = 8
	DefaultFeatureBlockSize  = 16
	DefaultInternalBlockSize = 4
	DefaultOpenMPBlockSize   = 64
)

// Compile-time checks on the defaults: the feature block must be twice the thread
// block and every size must be positive. Each line fails to compile otherwise.
var (
	_ [DefaultFeatureBlockSize - 2*DefaultThreadBlockSize]struct{}
	_ [2*DefaultThreadBlockSize - DefaultFeatureBlockSize]struct{}
	_ [DefaultThreadBlockSize - 1]struct{}
	_ [DefaultInternalBlockSize - 1]struct{}
	_ [DefaultOpenMPBlockSize - 1]struct{}
)

// Config is the tuning configuration. It is created once at process start and
// passed explicitly to everything that tiles work.
type Config struct {
	ThreadBlockSize   int `yaml:"thread_block_size" json:"thread_block_size"`
	FeatureBlockSize  int `yaml:"feature_block_size" json:"feature_block_size"`
	InternalBlockSize int `yaml:"internal_block_size" json:"internal_block_size"`
	OpenMPBlockSize   int `yaml:"openmp_block_size" json:"openmp_block_size"`
}

// Default returns the default tuning configuration.
func Default() Config {
	return Config{
		ThreadBlockSize:   DefaultThreadBlockSize,
		FeatureBlockSize:  DefaultFeatureBlockSize,
		InternalBlockSize: DefaultInternalBlockSize,
		OpenMPBlockSize:   DefaultOpenMPBlockSize,
	}
}

// Validate enforces the invariants the kernels rely on.
func (c Config) Validate() error {
	switch {
	case c.ThreadBlockSize <= 0:
		return fmt.Errorf("thread block size must be positive, got %d", c.ThreadBlockSize)
	case c.InternalBlockSize <= 0:
		return fmt.Errorf("internal block size must be positive, got %d", c.InternalBlockSize)
	case c.FeatureBlockSize <= 0:
		return fmt.Errorf("feature block size must be positive, got %d", c.FeatureBlockSize)
	case c.OpenMPBlockSize <= 0:
		return fmt.Errorf("openmp block size must be positive, got %d", c.OpenMPBlockSize)
	case c.FeatureBlockSize != 2*c.ThreadBlockSize:
		return fmt.Errorf("feature block size (%d) must be twice the thread block size (%d)", c.FeatureBlockSize, c.ThreadBlockSize)
	}
	return nil
}

// BoundarySize is the padding appended to every point-indexed buffer so that
// kernels can process full tiles without bounds checks.
func (c Config) BoundarySize() int {
	return c.ThreadBlockSize * c.InternalBlockSize
}

// Range is a launch configuration: grid and block dimensions in x, y, z.
type Range struct {
	Grid  [3]int
	Block [3]int

	// tile edge used by Tiles
	rowTile int
	colTile int
	rows    int
	cols    int
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ForVector is the range of the q and w kernels over n points.
func (c Config) ForVector(n int) Range {
	block := min(c.ThreadBlockSize, max(n, 1))
	return Range{
		Grid:    [3]int{ceilDiv(n, c.ThreadBlockSize), 1, 1},
		Block:   [3]int{block, 1, 1},
		rowTile: c.ThreadBlockSize,
		colTile: 1,
		rows:    n,
		cols:    1,
	}
}

// ForKernelMatrix is the range of the svm kernel over a rows×cols block of the
// implicit kernel matrix. Every thread computes an InternalBlockSize² tile.
func (c Config) ForKernelMatrix(rows, cols int) Range {
	b := c.BoundarySize()
	return Range{
		Grid:    [3]int{ceilDiv(rows, b), ceilDiv(cols, b), 1},
		Block:   [3]int{c.ThreadBlockSize, c.ThreadBlockSize, 1},
		rowTile: b,
		colTile: b,
		rows:    rows,
		cols:    cols,
	}
}

// ForPredict is the range of the predict kernel over points × predictPoints.
func (c Config) ForPredict(points, predictPoints int) Range {
	return Range{
		Grid:    [3]int{ceilDiv(points, c.ThreadBlockSize), ceilDiv(predictPoints, c.ThreadBlockSize), 1},
		Block:   [3]int{c.ThreadBlockSize, c.ThreadBlockSize, 1},
		rowTile: c.ThreadBlockSize,
		colTile: c.ThreadBlockSize,
		rows:    points,
		cols:    predictPoints,
	}
}

// Tile is a half-open rectangle [RowBegin, RowEnd) × [ColBegin, ColEnd).
type Tile struct {
	RowBegin, RowEnd int
	ColBegin, ColEnd int
}

// Tiles enumerates the tiles covered by the range, one per grid block, clipped
// to the logical extent. Host backends use it to distribute work.
func (r Range) Tiles() []Tile {
	if r.rows <= 0 || r.cols <= 0 {
		return nil
	}
	tiles := make([]Tile, 0, r.Grid[0]*r.Grid[1])
	for gx := 0; gx < r.Grid[0]; gx++ {
		rb := gx * r.rowTile
		re := min(rb+r.rowTile, r.rows)
		for gy := 0; gy < r.Grid[1]; gy++ {
			cb := gy * r.colTile
			ce := min(cb+r.colTile, r.cols)
			tiles = append(tiles, Tile{RowBegin: rb, RowEnd: re, ColBegin: cb, ColEnd: ce})
		}
	}
	return tiles
}

// Threads is the total thread count of the range.
func (r Range) Threads() int {
	return r.Grid[0] * r.Grid[1] * r.Grid[2] * r.Block[0] * r.Block[1] * r.Block[2]
}

func (r Range) String() string {
	return fmt.Sprintf("grid(%d,%d,%d) block(%d,%d,%d)", r.Grid[0], r.Grid[1], r.Grid[2], r.Block[0], r.Block[1], r.Block[2])
}

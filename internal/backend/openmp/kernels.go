package openmp

import (
	"sync"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// parallel runs fn over n work items split into contiguous chunks of at least
// grain items, using up to workers goroutines.
func parallel(n, workers, grain int, fn func(begin, end int)) {
	if n <= 0 {
		return
	}
	grain = max(grain, 1)
	chunks := min(workers, (n+grain-1)/grain)
	if chunks <= 1 {
		fn(0, n)
		return
	}
	per := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for begin := 0; begin < n; begin += per {
		end := min(begin+per, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(begin, end)
		}()
	}
	wg.Wait()
}

// groupTiles groups tiles sharing the same key. Each group is processed by a
// single worker so groups can own disjoint output ranges.
func groupTiles(tiles []tiling.Tile, key func(tiling.Tile) int) [][]tiling.Tile {
	index := map[int]int{}
	var groups [][]tiling.Tile
	for _, t := range tiles {
		k := key(t)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}

type views[T csvm.Real] struct {
	data, last, q, d, r, alpha, w, points, out []T
}

// qKernel: q[i] = k(x_i, x_last) for the shard rows.
func qKernel[T csvm.Real](v views[T], rng tiling.Range, args csvm.KernelArgs[T], workers, grain int) {
	tiles := rng.Tiles()
	stride := args.Stride()
	parallel(len(tiles), workers, max(grain/max(rng.Block[0], 1), 1), func(begin, end int) {
		for _, t := range tiles[begin:end] {
			for li := t.RowBegin; li < t.RowEnd; li++ {
				i := args.RowBegin + li
				var acc T
				for f := 0; f < args.NumFeatures; f++ {
					acc = args.Kernel.Accumulate(acc, v.data[f*stride+i], v.last[f])
				}
				v.q[i] = args.Kernel.Finalize(acc)
			}
		}
	})
}

// svmKernel: r[i] += add·Σ_j A_ij d[j] for the shard rows. Tiles of one row
// block are handled by one worker, so r is written without contention.
func svmKernel[T csvm.Real](v views[T], rng tiling.Range, add T, args csvm.KernelArgs[T], workers int) {
	groups := groupTiles(rng.Tiles(), func(t tiling.Tile) int { return t.RowBegin })
	stride := args.Stride()
	parallel(len(groups), workers, 1, func(begin, end int) {
		for _, group := range groups[begin:end] {
			for _, t := range group {
				for li := t.RowBegin; li < t.RowEnd; li++ {
					i := args.RowBegin + li
					var acc T
					for j := t.ColBegin; j < t.ColEnd; j++ {
						var kij T
						for f := 0; f < args.NumFeatures; f++ {
							kij = args.Kernel.Accumulate(kij, v.data[f*stride+i], v.data[f*stride+j])
						}
						a := args.Kernel.Finalize(kij) + args.QACost - v.q[i] - v.q[j]
						if i == j {
							a += args.InverseCost
						}
						acc += a * v.d[j]
					}
					v.r[i] += add * acc
				}
			}
		}
	})
}

// wKernel: w[f] = Σ alpha_i x_i[f] over the shard, plus the last point.
func wKernel[T csvm.Real](v views[T], rng tiling.Range, args csvm.KernelArgs[T], workers, grain int) {
	tiles := rng.Tiles()
	stride := args.Stride()
	parallel(len(tiles), workers, max(grain/max(rng.Block[0], 1), 1), func(begin, end int) {
		for _, t := range tiles[begin:end] {
			for f := t.RowBegin; f < t.RowEnd; f++ {
				var acc T
				row := v.data[f*stride:]
				for i := args.RowBegin; i < args.RowEnd; i++ {
					acc += v.alpha[i] * row[i]
				}
				if args.OwnsLast {
					acc += v.alpha[args.NumRows] * v.last[f]
				}
				v.w[f] = acc
			}
		}
	})
}

// predictKernel: out[p] = Σ alpha_i k(x_i, z_p) over the shard, plus the last
// point. Tiles of one column block are handled by one worker.
func predictKernel[T csvm.Real](v views[T], rng tiling.Range, args csvm.KernelArgs[T], workers int) {
	groups := groupTiles(rng.Tiles(), func(t tiling.Tile) int { return t.ColBegin })
	stride := args.Stride()
	pstride := args.NumPredict + args.Boundary
	parallel(len(groups), workers, 1, func(begin, end int) {
		for _, group := range groups[begin:end] {
			for _, t := range group {
				for p := t.ColBegin; p < t.ColEnd; p++ {
					var acc T
					for li := t.RowBegin; li < t.RowEnd; li++ {
						i := args.RowBegin + li
						var k T
						for f := 0; f < args.NumFeatures; f++ {
							k = args.Kernel.Accumulate(k, v.data[f*stride+i], v.points[f*pstride+p])
						}
						acc += v.alpha[i] * args.Kernel.Finalize(k)
					}
					v.out[p] += acc
				}
			}
		}
	})
	if !args.OwnsLast {
		return
	}
	parallel(args.NumPredict, workers, 64, func(begin, end int) {
		for p := begin; p < end; p++ {
			var k T
			for f := 0; f < args.NumFeatures; f++ {
				k = args.Kernel.Accumulate(k, v.last[f], v.points[f*pstride+p])
			}
			v.out[p] += v.alpha[args.NumRows] * args.Kernel.Finalize(k)
		}
	})
}

package csvm

// TransformData converts the first numPoints rows of matrix to the
// feature-major layout the kernels consume: numFeatures rows of
// numPoints+boundary values each. Padding slots are zero.
func TransformData[T Real](matrix [][]T, boundary, numPoints int) []T {
	if len(matrix) == 0 {
		return nil
	}
	numPoints = min(max(numPoints, 0), len(matrix))
	numFeatures := len(matrix[0])
	stride := numPoints + boundary
	out := make([]T, numFeatures*stride)
	for i := 0; i < numPoints; i++ {
		row := matrix[i]
		for f := 0; f < numFeatures; f++ {
			out[f*stride+i] = row[f]
		}
	}
	return out
}

// transformPoint lays out a single point with boundary padding.
func transformPoint[T Real](point []T, boundary int) []T {
	out := make([]T, len(point)+boundary)
	copy(out, point)
	return out
}

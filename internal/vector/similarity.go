package vector

// SquaredL2 returns the squared Euclidean distance between a and b.
// Vectors of different lengths are compared over the shorter prefix.
func SquaredL2(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

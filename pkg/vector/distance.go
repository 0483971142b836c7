package vector

import "math"

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Vectors of different length or zero norm yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding noise so identical vectors compare as exactly 1.
	return float32(math.Max(-1, math.Min(1, s)))
}

// cosineDistance maps similarity onto [0, 2], 0 meaning same direction.
func cosineDistance(a, b []float32) float32 {
	return 1 - CosineSimilarity(a, b)
}

// Normalize returns a unit-length copy of v, or ErrZeroVector.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

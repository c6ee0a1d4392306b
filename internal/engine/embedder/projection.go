package embedder

import (
	"fmt"

	"github.com/crimson-sun/pooling/internal/safetensors"
)

const (
	projectionWeight = "linear.weight"
	projectionBias   = "linear.bias"
)

// projection is a dense layer applied after pooling, loaded from a
// sentence-transformers Dense module. Activation is identity.
type projection struct {
	weights []float32 // row-major [outDim, inDim]
	bias    []float32 // nil when the layer has no bias
	inDim   int
	outDim  int
}

func loadProjection(path string) (*projection, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}

	weights, shape, err := f.Float32(projectionWeight)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("projection: expected 2D weight tensor, got shape %v", shape)
	}
	p := &projection{weights: weights, outDim: shape[0], inDim: shape[1]}

	if _, ok := f.Info(projectionBias); ok {
		bias, bshape, err := f.Float32(projectionBias)
		if err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
		if len(bshape) != 1 || bshape[0] != p.outDim {
			return nil, fmt.Errorf("projection: bias shape %v doesn't match output dim %d", bshape, p.outDim)
		}
		p.bias = bias
	}
	return p, nil
}

// apply projects vec from inDim to outDim into a new slice.
func (p *projection) apply(vec []float32) []float32 {
	out := make([]float32, p.outDim)
	for i := range out {
		row := p.weights[i*p.inDim : (i+1)*p.inDim]
		var sum float32
		for j, w := range row {
			sum += w * vec[j]
		}
		if p.bias != nil {
			sum += p.bias[i]
		}
		out[i] = sum
	}
	return out
}

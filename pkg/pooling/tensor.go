package pooling

import (
	"fmt"
	"math"
)

// Tensor is a row-major float32 array of any rank. It is the boundary type
// accepted by the reducers; Embeddings narrows it to a fixed rank.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Embeddings is either a Rank2 or a Rank3 tensor.
type Embeddings interface {
	// Dims returns the shape of the tensor.
	Dims() []int
	isEmbeddings()
}

// Rank2 holds one vector per sequence, shape (batch, hidden).
type Rank2 struct {
	Batch  int
	Hidden int
	Data   []float32
}

// Rank3 holds one vector per token per sequence, shape (batch, tokens, hidden).
type Rank3 struct {
	Batch  int
	Tokens int
	Hidden int
	Data   []float32
}

func (Rank2) isEmbeddings() {}
func (Rank3) isEmbeddings() {}

// Dims returns [batch, hidden].
func (r Rank2) Dims() []int { return []int{r.Batch, r.Hidden} }

// Dims returns [batch, tokens, hidden].
func (r Rank3) Dims() []int { return []int{r.Batch, r.Tokens, r.Hidden} }

// Row returns the vector of sequence i. The slice aliases r.Data.
func (r Rank2) Row(i int) []float32 {
	return r.Data[i*r.Hidden : (i+1)*r.Hidden]
}

// Rows copies r into one slice per sequence.
func (r Rank2) Rows() [][]float32 {
	out := make([][]float32, r.Batch)
	for i := range out {
		out[i] = append([]float32(nil), r.Row(i)...)
	}
	return out
}

// Tensor returns a view of r as a boundary Tensor.
func (r Rank2) Tensor() Tensor {
	return Tensor{Shape: r.Dims(), Data: r.Data}
}

// Token returns the embedding of token j in sequence i. The slice aliases r.Data.
func (r Rank3) Token(i, j int) []float32 {
	off := (i*r.Tokens + j) * r.Hidden
	return r.Data[off : off+r.Hidden]
}

// Tensor returns a view of r as a boundary Tensor.
func (r Rank3) Tensor() Tensor {
	return Tensor{Shape: r.Dims(), Data: r.Data}
}

// Embeddings checks the rank and size of t and returns the matching
// fixed-rank view. The data is not copied.
func (t Tensor) Embeddings() (Embeddings, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	switch len(t.Shape) {
	case 2:
		return Rank2{Batch: t.Shape[0], Hidden: t.Shape[1], Data: t.Data}, nil
	case 3:
		return Rank3{Batch: t.Shape[0], Tokens: t.Shape[1], Hidden: t.Shape[2], Data: t.Data}, nil
	default:
		return nil, &InvalidShapeError{
			Shape:  cloneShape(t.Shape),
			Reason: "expected 2D or 3D tensor",
		}
	}
}

func (t Tensor) validate() error {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return &InvalidShapeError{Shape: cloneShape(t.Shape), Reason: "negative dimension"}
		}
		if d != 0 && n > math.MaxInt/d {
			return &InvalidShapeError{Shape: cloneShape(t.Shape), Reason: "element count overflows int"}
		}
		n *= d
	}
	if n != len(t.Data) {
		return &InvalidShapeError{
			Shape:  cloneShape(t.Shape),
			Reason: fmt.Sprintf("shape holds %d elements but data has %d", n, len(t.Data)),
		}
	}
	return nil
}

// Mask is a rank-2 attention mask of shape (batch, tokens). Zero marks
// padding; any other value is used as a weight.
type Mask struct {
	Batch  int
	Tokens int
	Data   []int64
}

// Dims returns [batch, tokens].
func (m Mask) Dims() []int { return []int{m.Batch, m.Tokens} }

// NewMask builds a Mask from one row per sequence. All rows must have the
// same length.
func NewMask(rows [][]int64) (Mask, error) {
	tokens := 0
	if len(rows) > 0 {
		tokens = len(rows[0])
	}
	data := make([]int64, 0, len(rows)*tokens)
	for i, row := range rows {
		if len(row) != tokens {
			return Mask{}, fmt.Errorf("%w: mask row %d has %d tokens, want %d", ErrInvalidShape, i, len(row), tokens)
		}
		data = append(data, row...)
	}
	return Mask{Batch: len(rows), Tokens: tokens, Data: data}, nil
}

// NewRank2 builds a Rank2 tensor from one row per sequence.
func NewRank2(rows [][]float32) (Rank2, error) {
	hidden := 0
	if len(rows) > 0 {
		hidden = len(rows[0])
	}
	data := make([]float32, 0, len(rows)*hidden)
	for i, row := range rows {
		if len(row) != hidden {
			return Rank2{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidShape, i, len(row), hidden)
		}
		data = append(data, row...)
	}
	return Rank2{Batch: len(rows), Hidden: hidden, Data: data}, nil
}

// NewRank3 builds a Rank3 tensor from [batch][tokens][hidden] nested slices.
func NewRank3(seqs [][][]float32) (Rank3, error) {
	var tokens, hidden int
	if len(seqs) > 0 {
		tokens = len(seqs[0])
		if tokens > 0 {
			hidden = len(seqs[0][0])
		}
	}
	data := make([]float32, 0, len(seqs)*tokens*hidden)
	for i, seq := range seqs {
		if len(seq) != tokens {
			return Rank3{}, fmt.Errorf("%w: sequence %d has %d tokens, want %d", ErrInvalidShape, i, len(seq), tokens)
		}
		for j, tok := range seq {
			if len(tok) != hidden {
				return Rank3{}, fmt.Errorf("%w: token [%d,%d] has %d values, want %d", ErrInvalidShape, i, j, len(tok), hidden)
			}
			data = append(data, tok...)
		}
	}
	return Rank3{Batch: len(seqs), Tokens: tokens, Hidden: hidden, Data: data}, nil
}

func cloneShape(s []int) []int {
	return append([]int(nil), s...)
}

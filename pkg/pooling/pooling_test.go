package pooling

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRank3(t *testing.T, seqs [][][]float32) Rank3 {
	t.Helper()
	r, err := NewRank3(seqs)
	require.NoError(t, err)
	return r
}

func mustMask(t *testing.T, rows [][]int64) Mask {
	t.Helper()
	m, err := NewMask(rows)
	require.NoError(t, err)
	return m
}

func randomRank3(rng *rand.Rand, b, tokens, h int) Rank3 {
	data := make([]float32, b*tokens*h)
	for i := range data {
		data[i] = rng.Float32()*20 - 10
	}
	return Rank3{Batch: b, Tokens: tokens, Hidden: h, Data: data}
}

func TestReduceMeanScenarios(t *testing.T) {
	tests := []struct {
		name string
		emb  [][][]float32
		mask [][]int64
		want [][]float32
	}{
		{
			name: "padding token excluded",
			emb:  [][][]float32{{{1, 1}, {2, 2}, {3, 3}}},
			mask: [][]int64{{1, 1, 0}},
			want: [][]float32{{1.5, 1.5}},
		},
		{
			name: "full mask batch",
			emb:  [][][]float32{{{1}, {3}}, {{5}, {7}}},
			mask: [][]int64{{1, 1}, {1, 1}},
			want: [][]float32{{2}, {6}},
		},
		{
			name: "all padding yields zeros",
			emb:  [][][]float32{{{4, -2}, {8, 6}}},
			mask: [][]int64{{0, 0}},
			want: [][]float32{{0, 0}},
		},
		{
			name: "mixed rows",
			emb:  [][][]float32{{{10, 20}, {30, 40}}, {{5, 15}, {0, 0}}},
			mask: [][]int64{{1, 1}, {1, 0}},
			want: [][]float32{{20, 30}, {5, 15}},
		},
		{
			name: "nonbinary weights",
			emb:  [][][]float32{{{2}, {8}}},
			mask: [][]int64{{3, 1}},
			want: [][]float32{{3.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := mustRank3(t, tt.emb)
			out, err := ReduceMean(emb.Tensor(), mustMask(t, tt.mask))
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), out.Batch)
			assert.Equal(t, tt.want, out.Rows())
		})
	}
}

func TestReduceMeanFullMaskIsArithmeticMean(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := randomRank3(rng, 4, 6, 5)
	rows := make([][]int64, e.Batch)
	for i := range rows {
		rows[i] = []int64{1, 1, 1, 1, 1, 1}
	}

	out, err := ReduceMean(e.Tensor(), mustMask(t, rows))
	require.NoError(t, err)

	for i := 0; i < e.Batch; i++ {
		for k := 0; k < e.Hidden; k++ {
			var want float64
			for j := 0; j < e.Tokens; j++ {
				want += float64(e.Token(i, j)[k])
			}
			want /= float64(e.Tokens)
			assert.InDelta(t, want, out.Row(i)[k], 1e-4, "sequence %d feature %d", i, k)
		}
	}
}

func TestReduceMeanBinaryMaskAveragesRealTokens(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	e := randomRank3(rng, 3, 5, 4)
	rows := [][]int64{
		{1, 0, 1, 0, 1},
		{0, 0, 0, 0, 1},
		{1, 1, 1, 1, 0},
	}

	out, err := ReduceMean(e.Tensor(), mustMask(t, rows))
	require.NoError(t, err)

	for i, row := range rows {
		want := make([]float64, e.Hidden)
		n := 0
		for j, m := range row {
			if m != 1 {
				continue
			}
			n++
			for k, v := range e.Token(i, j) {
				want[k] += float64(v)
			}
		}
		for k := range want {
			assert.InDelta(t, want[k]/float64(n), out.Row(i)[k], 1e-4)
		}
	}
}

func TestReduceMeanZeroMaskRowNeverNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	e := randomRank3(rng, 2, 3, 8)
	out, err := ReduceMean(e.Tensor(), mustMask(t, [][]int64{{1, 1, 1}, {0, 0, 0}}))
	require.NoError(t, err)

	for _, v := range out.Row(1) {
		assert.False(t, math.IsNaN(float64(v)))
		assert.Zero(t, v)
	}
}

func TestReduceMeanDoesNotMutateInput(t *testing.T) {
	e := mustRank3(t, [][][]float32{{{1, 2}, {3, 4}}})
	before := append([]float32(nil), e.Data...)
	mask := mustMask(t, [][]int64{{1, 0}})

	out, err := ReduceMean(e.Tensor(), mask)
	require.NoError(t, err)
	out.Data[0] = 99

	assert.Equal(t, before, e.Data)
	assert.Equal(t, []int64{1, 0}, mask.Data)
}

func TestReduceMeanShapeMismatch(t *testing.T) {
	e := mustRank3(t, [][][]float32{{{1}, {2}}, {{3}, {4}}})

	tests := []struct {
		name string
		emb  Tensor
		mask Mask
	}{
		{"batch differs", e.Tensor(), mustMask(t, [][]int64{{1, 1}})},
		{"tokens differ", e.Tensor(), mustMask(t, [][]int64{{1, 1, 1}, {1, 1, 1}})},
		{"short mask data", e.Tensor(), Mask{Batch: 2, Tokens: 2, Data: []int64{1, 1}}},
		{"rank 2 embeddings", Tensor{Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}}, mustMask(t, [][]int64{{1, 1}, {1, 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReduceMean(tt.emb, tt.mask)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShapeMismatch)

			var mm *ShapeMismatchError
			require.True(t, errors.As(err, &mm))
			assert.Equal(t, tt.emb.Shape, mm.Embeddings)
		})
	}
}

func TestReduceMeanInvalidRank(t *testing.T) {
	_, err := ReduceMean(Tensor{Shape: []int{4}, Data: make([]float32, 4)}, Mask{})
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestReduceMeanOverflowingShape(t *testing.T) {
	in := Tensor{Shape: []int{1 << 62, 4, 1}}
	mask := Mask{Batch: 1 << 62, Tokens: 4}

	assert.NotPanics(t, func() {
		_, err := ReduceMean(in, mask)
		assert.ErrorIs(t, err, ErrInvalidShape)
	})
}

func TestReduceCLSRank2Identity(t *testing.T) {
	in := Tensor{Shape: []int{2, 4}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}}

	out, err := ReduceCLS(in)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, out.Dims())
	assert.Equal(t, in.Data, out.Data)

	out.Data[0] = -1
	assert.Equal(t, float32(1), in.Data[0], "output must not alias input")
}

func TestReduceCLSRank3FirstToken(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	e := randomRank3(rng, 3, 4, 6)

	out, err := ReduceCLS(e.Tensor())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 6}, out.Dims())
	for i := 0; i < e.Batch; i++ {
		assert.Equal(t, e.Token(i, 0), out.Row(i))
	}

	out.Data[0] = 1000
	assert.NotEqual(t, float32(1000), e.Data[0])
}

func TestReduceCLSInvalidShape(t *testing.T) {
	tests := []struct {
		name string
		in   Tensor
	}{
		{"rank 1", Tensor{Shape: []int{3}, Data: []float32{1, 2, 3}}},
		{"rank 4", Tensor{Shape: []int{1, 1, 1, 2}, Data: []float32{1, 2}}},
		{"rank 0", Tensor{Shape: nil, Data: []float32{1}}},
		{"data length mismatch", Tensor{Shape: []int{2, 2}, Data: []float32{1, 2, 3}}},
		{"negative dimension", Tensor{Shape: []int{-1, 2}, Data: nil}},
		{"no tokens", Tensor{Shape: []int{2, 0, 3}, Data: nil}},
		{"overflowing rank 2 shape", Tensor{Shape: []int{1 << 62, 4}}},
		{"overflowing rank 3 shape", Tensor{Shape: []int{1 << 62, 4, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReduceCLS(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidShape)

			var ise *InvalidShapeError
			require.True(t, errors.As(err, &ise))
			assert.Equal(t, tt.in.Shape, ise.Shape)
		})
	}
}

func TestPoolDispatch(t *testing.T) {
	e := mustRank3(t, [][][]float32{{{1, 1}, {2, 2}, {3, 3}}})
	mask := mustMask(t, [][]int64{{1, 1, 0}})

	cls, err := Pool(Cls, e.Tensor(), mask)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}}, cls.Rows())

	mean, err := Pool(Mean, e.Tensor(), mask)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1.5, 1.5}}, mean.Rows())

	var zero Strategy
	def, err := Pool(zero, e.Tensor(), Mask{})
	require.NoError(t, err)
	assert.Equal(t, cls, def)

	_, err = Pool(Strategy(9), e.Tensor(), mask)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestReducersConcurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := randomRank3(rng, 8, 16, 32)
	rows := make([][]int64, e.Batch)
	for i := range rows {
		rows[i] = make([]int64, e.Tokens)
		for j := 0; j <= i && j < e.Tokens; j++ {
			rows[i][j] = 1
		}
	}
	mask := mustMask(t, rows)

	want, err := ReduceMean(e.Tensor(), mask)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ReduceMean(e.Tensor(), mask)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

package pooling

// ReduceCLS returns the embedding of the first token of every sequence.
//
// A rank-2 tensor is treated as already pooled and returned as a copy. A
// rank-3 tensor (batch, tokens, hidden) yields the slice at token index 0.
// Any other rank fails with an *InvalidShapeError.
func ReduceCLS(t Tensor) (Rank2, error) {
	emb, err := t.Embeddings()
	if err != nil {
		return Rank2{}, err
	}
	e, ok := emb.(Rank3)
	if !ok {
		return clsRank2(emb.(Rank2)), nil
	}
	if e.Tokens == 0 && e.Batch > 0 {
		return Rank2{}, &InvalidShapeError{Shape: e.Dims(), Reason: "no token at index 0"}
	}
	return clsRank3(e), nil
}

// clsRank2 tolerates encoders that already squeeze the token axis.
// TODO: revisit once callers validate encoder output rank themselves; this
// path could then reject rank-2 input.
func clsRank2(e Rank2) Rank2 {
	out := Rank2{Batch: e.Batch, Hidden: e.Hidden, Data: make([]float32, len(e.Data))}
	copy(out.Data, e.Data)
	return out
}

func clsRank3(e Rank3) Rank2 {
	out := Rank2{Batch: e.Batch, Hidden: e.Hidden, Data: make([]float32, e.Batch*e.Hidden)}
	if e.Hidden == 0 {
		return out
	}
	for i := 0; i < e.Batch; i++ {
		copy(out.Row(i), e.Token(i, 0))
	}
	return out
}

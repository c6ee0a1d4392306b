package pooling

// ReduceMean computes the attention-mask-weighted mean of token embeddings for
// every sequence, returning shape (batch, hidden).
//
// The mask (batch, tokens) is broadcast to (batch, tokens, hidden) through a
// trailing unit axis, so its batch and token dimensions must equal those of
// t; otherwise a *ShapeMismatchError is returned. Size-1 mask dimensions
// are not stretched, so a (1, tokens) mask does not apply to a larger batch.
// A rank-2 tensor has no token axis to broadcast onto and is also a
// mismatch. Sequences whose mask sums to zero pool to the zero vector.
//
// All arithmetic is float32.
func ReduceMean(t Tensor, mask Mask) (Rank2, error) {
	emb, err := t.Embeddings()
	if err != nil {
		return Rank2{}, err
	}
	e, ok := emb.(Rank3)
	if !ok || !broadcastable(mask, e) {
		return Rank2{}, &ShapeMismatchError{Mask: mask.Dims(), Embeddings: emb.Dims()}
	}
	return meanRank3(e, mask), nil
}

// broadcastable reports whether mask, expanded to (batch, tokens, 1), can be
// broadcast to the shape of e.
func broadcastable(mask Mask, e Rank3) bool {
	return mask.Batch == e.Batch &&
		mask.Tokens == e.Tokens &&
		len(mask.Data) == mask.Batch*mask.Tokens
}

func meanRank3(e Rank3, mask Mask) Rank2 {
	out := Rank2{Batch: e.Batch, Hidden: e.Hidden, Data: make([]float32, e.Batch*e.Hidden)}
	for i := 0; i < e.Batch; i++ {
		sum := out.Row(i)
		weights := mask.Data[i*mask.Tokens : (i+1)*mask.Tokens]

		// The broadcast mask is constant along the hidden axis, so its sum
		// is the same for every feature of the sequence.
		var count float32
		for j, m := range weights {
			w := float32(m)
			count += w
			for k, v := range e.Token(i, j) {
				sum[k] += v * w
			}
		}
		if count == 0 {
			count = 1
		}
		for k := range sum {
			sum[k] /= count
		}
	}
	return out
}

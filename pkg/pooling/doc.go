// Package pooling reduces per-token encoder outputs to one vector per
// sequence.
//
// Two strategies are supported: CLS pooling, which keeps the embedding of the
// first token, and mean pooling, which averages token embeddings weighted by
// the attention mask.
//
//	hidden := pooling.Tensor{Shape: []int{1, 3, 2}, Data: []float32{1, 1, 2, 2, 3, 3}}
//	mask, _ := pooling.NewMask([][]int64{{1, 1, 0}})
//	out, err := pooling.ReduceMean(hidden, mask)
//	// out.Row(0) == []float32{1.5, 1.5}
//
// Reducers never modify their inputs and always return freshly allocated
// output. They hold no state and are safe for concurrent use.
package pooling

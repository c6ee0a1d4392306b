package pooling

import "fmt"

// Pool applies the reducer selected by s. The mask is ignored for Cls.
func Pool(s Strategy, t Tensor, mask Mask) (Rank2, error) {
	switch s {
	case Cls:
		return ReduceCLS(t)
	case Mean:
		return ReduceMean(t, mask)
	default:
		return Rank2{}, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
}

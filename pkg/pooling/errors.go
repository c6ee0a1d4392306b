package pooling

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidShape is matched by every *InvalidShapeError.
	ErrInvalidShape = errors.New("pooling: invalid shape")
	// ErrShapeMismatch is matched by every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("pooling: shape mismatch")
	// ErrUnknownStrategy is returned when parsing an unsupported strategy name.
	ErrUnknownStrategy = errors.New("pooling: unknown strategy")
)

// InvalidShapeError reports a tensor whose shape the reducers can not accept,
// most often a rank other than 2 or 3.
type InvalidShapeError struct {
	Shape  []int
	Reason string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("pooling: invalid shape %v: %s", e.Shape, e.Reason)
}

// Is reports whether target is ErrInvalidShape.
func (e *InvalidShapeError) Is(target error) bool {
	return target == ErrInvalidShape
}

// ShapeMismatchError reports an attention mask that can not be broadcast
// onto the embedding tensor. It always indicates a caller bug.
type ShapeMismatchError struct {
	Mask       []int
	Embeddings []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("pooling: could not broadcast attention mask from %v to %v", e.Mask, e.Embeddings)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

package output

import "context"

// Record is one pooled vector.
type Record struct {
	Source   string    `json:"source,omitempty"`
	Index    int       `json:"index"`
	Strategy string    `json:"strategy"`
	Vector   []float32 `json:"vector"`
}

// Output defines the interface for pooled-vector destinations.
type Output interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

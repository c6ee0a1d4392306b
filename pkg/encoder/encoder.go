package encoder

import (
	"fmt"

	"github.com/crimson-sun/pooling/internal/engine/embedder"
	"github.com/crimson-sun/pooling/pkg/pooling"
)

// Encoder embeds text into fixed-size vectors. Safe for concurrent use.
type Encoder struct {
	emb *embedder.ONNXEmbedder
}

// New loads the model files and creates an Encoder. Loading is expensive;
// create once and reuse.
func New(opts ...Option) (*Encoder, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	modelPath, vocabPath, projPath := resolvePaths(o)
	emb, err := embedder.New(embedder.Options{
		ModelPath:      modelPath,
		VocabPath:      vocabPath,
		ProjectionPath: projPath,
		Pooling:        o.strategy,
		Normalize:      o.normalize,
		MaxSeqLen:      o.maxSeqLen,
		IntraOpThreads: o.threads,
	})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	return &Encoder{emb: emb}, nil
}

// Encode embeds a single text.
func (e *Encoder) Encode(text string) ([]float32, error) {
	return e.emb.Embed(text)
}

// EncodeBatch embeds several texts in one inference call. More efficient
// than calling Encode in a loop.
func (e *Encoder) EncodeBatch(texts []string) ([][]float32, error) {
	return e.emb.EmbedBatch(texts)
}

// Dim returns the length of the vectors produced.
func (e *Encoder) Dim() int {
	return e.emb.EmbedDim()
}

// Pooling returns the pooling strategy in use.
func (e *Encoder) Pooling() pooling.Strategy {
	return e.emb.Strategy()
}

// Close releases model resources. Must be called when the Encoder is no
// longer needed.
func (e *Encoder) Close() error {
	return e.emb.Close()
}

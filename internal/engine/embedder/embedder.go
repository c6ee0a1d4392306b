package embedder

import (
	"fmt"
	"log/slog"

	"github.com/chewxy/math32"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

// DefaultMaxSeqLen caps tokenized sequences, including [CLS] and [SEP].
const DefaultMaxSeqLen = 128

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Close() error
}

// Options configures an ONNXEmbedder.
type Options struct {
	ModelPath      string
	VocabPath      string
	ProjectionPath string // optional; empty disables the dense projection

	Pooling        pooling.Strategy
	Normalize      bool
	MaxSeqLen      int
	IntraOpThreads int
}

// inferer runs the encoder over a tokenized batch and returns its hidden
// states, either (batch, seq, dim) or already pooled (batch, dim).
type inferer interface {
	infer(batch tokenized) (pooling.Tensor, error)
	hiddenDim() int
	pooledOutput() bool
	close() error
}

// ONNXEmbedder wraps the ONNX runtime, tokenizer, pooling and optional
// projection layer for local embedding inference.
type ONNXEmbedder struct {
	session   inferer
	tok       *tokenizer
	proj      *projection
	strategy  pooling.Strategy
	normalize bool
}

// New creates an ONNXEmbedder. The pipeline is:
// tokenize → ONNX inference → pool → optional projection → optional L2 normalize.
func New(opts Options) (*ONNXEmbedder, error) {
	if opts.MaxSeqLen <= 0 {
		opts.MaxSeqLen = DefaultMaxSeqLen
	}

	tok, err := newTokenizer(opts.VocabPath, opts.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	var proj *projection
	if opts.ProjectionPath != "" {
		proj, err = loadProjection(opts.ProjectionPath)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
	}

	sess, err := newONNXSession(opts.ModelPath, opts.IntraOpThreads)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	e, err := assemble(sess, tok, proj, opts)
	if err != nil {
		sess.close()
		return nil, err
	}

	slog.Debug("embedder ready",
		"model", opts.ModelPath,
		"pooling", e.strategy.String(),
		"hidden_dim", sess.hiddenDim(),
		"embed_dim", e.EmbedDim(),
		"normalize", e.normalize,
	)
	return e, nil
}

// assemble checks that the session, pooling strategy and projection agree.
func assemble(sess inferer, tok *tokenizer, proj *projection, opts Options) (*ONNXEmbedder, error) {
	if sess.pooledOutput() && opts.Pooling == pooling.Mean {
		return nil, fmt.Errorf("embedder: model output is already pooled; mean pooling needs per-token hidden states")
	}
	if proj != nil && sess.hiddenDim() != proj.inDim {
		return nil, fmt.Errorf("embedder: ONNX output dim %d != projection input dim %d",
			sess.hiddenDim(), proj.inDim)
	}
	return &ONNXEmbedder{
		session:   sess,
		tok:       tok,
		proj:      proj,
		strategy:  opts.Pooling,
		normalize: opts.Normalize,
	}, nil
}

// EmbedDim returns the final embedding dimensionality.
func (e *ONNXEmbedder) EmbedDim() int {
	if e.proj != nil {
		return e.proj.outDim
	}
	return e.session.hiddenDim()
}

// Strategy returns the pooling strategy in use.
func (e *ONNXEmbedder) Strategy() pooling.Strategy {
	return e.strategy
}

// Embed produces a single embedding vector for the given text.
func (e *ONNXEmbedder) Embed(text string) ([]float32, error) {
	vecs, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch produces embedding vectors for multiple texts in one inference
// call, padded to the longest sequence in the batch.
func (e *ONNXEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := e.tok.tokenizeBatch(texts)

	hidden, err := e.session.infer(batch)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	pooled, err := pooling.Pool(e.strategy, hidden, batch.attentionMask)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	results := make([][]float32, pooled.Batch)
	for i := range results {
		vec := pooled.Row(i)
		if e.proj != nil {
			vec = e.proj.apply(vec)
		}
		if e.normalize {
			l2Normalize(vec)
		}
		results[i] = vec
	}
	return results, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.close()
	}
	return nil
}

// l2Normalize scales vec in place to unit length. Zero vectors are left as is.
func l2Normalize(vec []float32) {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	inv := 1 / math32.Sqrt(sum)
	for i := range vec {
		vec[i] *= inv
	}
}

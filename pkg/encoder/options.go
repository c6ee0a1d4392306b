package encoder

import (
	"os"
	"path/filepath"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

type options struct {
	modelDir       string
	modelPath      string
	vocabPath      string
	projectionPath string
	strategy       pooling.Strategy
	normalize      bool
	maxSeqLen      int
	threads        int
}

// Option configures an Encoder.
type Option func(*options)

// WithModelDir sets the directory containing model files.
// Expects model_quantized.onnx and vocab.txt; 2_Dense/model.safetensors is
// used as a projection layer when present.
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithModelPaths sets explicit paths for each model file. projection may be
// empty to skip the dense layer.
func WithModelPaths(model, vocab, projection string) Option {
	return func(o *options) {
		o.modelPath = model
		o.vocabPath = vocab
		o.projectionPath = projection
	}
}

// WithPooling selects the pooling strategy. Default: pooling.Cls.
func WithPooling(s pooling.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithNormalize scales every embedding to unit L2 norm.
func WithNormalize(on bool) Option {
	return func(o *options) {
		o.normalize = on
	}
}

// WithMaxSeqLen caps the tokenized length of each input. Default: 128.
func WithMaxSeqLen(n int) Option {
	return func(o *options) {
		o.maxSeqLen = n
	}
}

// WithIntraOpThreads sets ONNX Runtime intra-op parallelism. 0 picks a default.
func WithIntraOpThreads(n int) Option {
	return func(o *options) {
		o.threads = n
	}
}

func defaultOptions() options {
	return options{strategy: pooling.DefaultStrategy}
}

// resolvePaths determines the model, vocab, and projection file paths.
// Explicit paths take precedence over modelDir.
func resolvePaths(o options) (model, vocab, projection string) {
	if o.modelPath != "" {
		return o.modelPath, o.vocabPath, o.projectionPath
	}
	dir := o.modelDir
	if dir == "" {
		dir = "models"
	}
	projection = filepath.Join(dir, "2_Dense", "model.safetensors")
	if _, err := os.Stat(projection); err != nil {
		projection = ""
	}
	return filepath.Join(dir, "model_quantized.onnx"), filepath.Join(dir, "vocab.txt"), projection
}

package embedder

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Only the first call has
// any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	tokenTypeIDsName  = "token_type_ids"
)

// onnxSession wraps a DynamicAdvancedSession for BERT-style encoders.
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	outputRank int
	dim        int64
}

// newONNXSession loads the model and creates an inference session. The
// ONNX Runtime shared library is expected next to the model file.
func newONNXSession(modelPath string, intraOpThreads int) (*onnxSession, error) {
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	inputNames, err := selectInputs(inputs)
	if err != nil {
		return nil, err
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	outputName := outputs[0].Name
	dims := outputs[0].Dimensions
	rank := len(dims)
	if rank != 2 && rank != 3 {
		return nil, fmt.Errorf("onnx: expected 2D or 3D output tensor, got %v", dims)
	}
	dim := dims[rank-1]
	if dim <= 0 {
		return nil, fmt.Errorf("onnx: output hidden dimension must be static, got %v", dims)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if intraOpThreads <= 0 {
		intraOpThreads = min(runtime.NumCPU(), 4)
	}
	if err := opts.SetIntraOpNumThreads(intraOpThreads); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &onnxSession{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		outputRank: rank,
		dim:        dim,
	}, nil
}

// selectInputs checks for input_ids and attention_mask and returns the input
// names in feed order. token_type_ids is fed only when the model declares it.
func selectInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	declared := make(map[string]bool, len(inputs))
	for _, inp := range inputs {
		declared[inp.Name] = true
	}
	names := []string{inputIDsName, attentionMaskName}
	for _, name := range names {
		if !declared[name] {
			return nil, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	if declared[tokenTypeIDsName] {
		names = append(names, tokenTypeIDsName)
	}
	return names, nil
}

func (s *onnxSession) hiddenDim() int { return int(s.dim) }

func (s *onnxSession) pooledOutput() bool { return s.outputRank == 2 }

// infer runs one inference call and copies the output into a Tensor of shape
// (batch, seq, dim), or (batch, dim) for models that pool internally.
func (s *onnxSession) infer(batch tokenized) (pooling.Tensor, error) {
	shape := ort.NewShape(batch.batchSize, batch.seqLen)
	feeds := map[string][]int64{
		inputIDsName:      batch.inputIDs,
		attentionMaskName: batch.attentionMask.Data,
		tokenTypeIDsName:  batch.tokenTypeIDs,
	}

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		t, err := ort.NewTensor(shape, feeds[name])
		if err != nil {
			return pooling.Tensor{}, fmt.Errorf("onnx: failed to create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	outShape := []int64{batch.batchSize, batch.seqLen, s.dim}
	if s.pooledOutput() {
		outShape = []int64{batch.batchSize, s.dim}
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		return pooling.Tensor{}, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run(inputs, []ort.Value{out}); err != nil {
		return pooling.Tensor{}, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before the tensor is destroyed.
	src := out.GetData()
	data := make([]float32, len(src))
	copy(data, src)

	dims := make([]int, len(outShape))
	for i, d := range outShape {
		dims[i] = int(d)
	}
	return pooling.Tensor{Shape: dims, Data: data}, nil
}

func (s *onnxSession) close() error {
	return s.session.Destroy()
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/pooling/internal/output"
	"github.com/crimson-sun/pooling/internal/safetensors"
)

// run executes the root command in an empty working directory so no
// pooling.yaml is picked up.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), err
}

func writeFixture(t *testing.T, name string, tensors ...safetensors.Tensor) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, safetensors.Write(&buf, map[string]string{"format": "pt"}, tensors...))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func hiddenTensor(t *testing.T, dtype string, shape []int, values []float32) safetensors.Tensor {
	t.Helper()
	tensor, err := safetensors.FromFloat32(defaultHiddenKey, dtype, shape, values)
	require.NoError(t, err)
	return tensor
}

func decodeRecords(t *testing.T, out string) []output.Record {
	t.Helper()
	var recs []output.Record
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var rec output.Record
		require.NoError(t, dec.Decode(&rec))
		recs = append(recs, rec)
	}
	return recs
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "pooling", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"pool", "embed", "inspect", "version"})

	for _, flag := range []string{"config", "log-level", "format", "output"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing --%s", flag)
	}
}

func TestPoolMeanMultipleFiles(t *testing.T) {
	a := writeFixture(t, "a.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 3, 2}, []float32{1, 1, 2, 2, 3, 3}),
		safetensors.FromInt64(defaultMaskKey, []int{1, 3}, []int64{1, 1, 0}),
	)
	b := writeFixture(t, "b.safetensors",
		hiddenTensor(t, safetensors.F16, []int{2, 2, 1}, []float32{1, 3, 5, 7}),
		safetensors.FromInt64(defaultMaskKey, []int{2, 2}, []int64{1, 1, 1, 1}),
	)

	out, err := run(t, "", "pool", "--strategy", "mean", "--workers", "2", a, b)
	require.NoError(t, err)

	recs := decodeRecords(t, out)
	require.Len(t, recs, 3)
	assert.Equal(t, a, recs[0].Source)
	assert.Equal(t, []float32{1.5, 1.5}, recs[0].Vector)
	assert.Equal(t, "mean", recs[0].Strategy)
	assert.Equal(t, b, recs[1].Source)
	assert.Equal(t, 0, recs[1].Index)
	assert.Equal(t, []float32{2}, recs[1].Vector)
	assert.Equal(t, 1, recs[2].Index)
	assert.Equal(t, []float32{6}, recs[2].Vector)
}

func TestPoolClsDefaultAndAlreadyPooled(t *testing.T) {
	path := writeFixture(t, "pooled.safetensors",
		hiddenTensor(t, safetensors.BF16, []int{2, 2}, []float32{1, 2, 3, 4}),
	)

	out, err := run(t, "", "pool", path)
	require.NoError(t, err)

	recs := decodeRecords(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, "cls", recs[0].Strategy)
	assert.Equal(t, []float32{1, 2}, recs[0].Vector)
	assert.Equal(t, []float32{3, 4}, recs[1].Vector)
}

func TestPoolWritesFile(t *testing.T) {
	path := writeFixture(t, "h.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2, 2}, []float32{5, 6, 7, 8}),
	)
	dest := filepath.Join(t.TempDir(), "out.jsonl")

	out, err := run(t, "", "pool", "-o", dest, path)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	recs := decodeRecords(t, string(data))
	require.Len(t, recs, 1)
	assert.Equal(t, []float32{5, 6}, recs[0].Vector)
}

func TestPoolErrors(t *testing.T) {
	noMask := writeFixture(t, "nomask.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2, 1}, []float32{1, 2}),
	)
	mismatch := writeFixture(t, "mismatch.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2, 1}, []float32{1, 2}),
		safetensors.FromInt64(defaultMaskKey, []int{1, 3}, []int64{1, 1, 1}),
	)
	rank4 := writeFixture(t, "rank4.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 1, 1, 2}, []float32{1, 2}),
	)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing mask", []string{"pool", "-s", "mean", noMask}, "not found"},
		{"mask mismatch", []string{"pool", "-s", "mean", mismatch}, "could not broadcast"},
		{"invalid rank", []string{"pool", rank4}, "invalid shape"},
		{"unknown strategy", []string{"pool", "-s", "max", noMask}, "unknown strategy"},
		{"missing file", []string{"pool", filepath.Join(t.TempDir(), "none.safetensors")}, "no such file"},
		{"no args", []string{"pool"}, "requires at least 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPoolJSONFormat(t *testing.T) {
	path := writeFixture(t, "h.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2}, []float32{1, 2}),
	)
	out, err := run(t, "", "pool", "--format", "json", path)
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"vector\": [")
}

func TestInspect(t *testing.T) {
	path := writeFixture(t, "h.safetensors",
		hiddenTensor(t, safetensors.F16, []int{2, 3, 4}, make([]float32, 24)),
		safetensors.FromInt64(defaultMaskKey, []int{2, 3}, make([]int64, 6)),
	)

	out, err := run(t, "", "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "attention_mask")
	assert.Contains(t, out, "last_hidden_state")
	assert.Contains(t, out, "(2, 3, 4)")
	assert.Contains(t, out, "F16")
	assert.Contains(t, out, "format: pt")
}

func TestEmbedWithoutModel(t *testing.T) {
	_, err := run(t, "", "embed", "hello")
	assert.Error(t, err)

	_, err = run(t, "\n  \n", "embed")
	assert.ErrorContains(t, err, "no input text")
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("first\n\n  second  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, lines)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pooling "+Version)

	out, err = run(t, "", "version", "--json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := run(t, "", "--format", "csv", "version")
	assert.ErrorContains(t, err, "output.format")
}

func TestIndentedJSONToFileRejected(t *testing.T) {
	path := writeFixture(t, "h.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2}, []float32{1, 2}),
	)
	dest := filepath.Join(t.TempDir(), "out.json")

	_, err := run(t, "", "pool", "--format", "json", "-o", dest, path)
	assert.ErrorContains(t, err, "files are always ndjson")
	assert.NoFileExists(t, dest)
}

func TestPoolAppendsToFile(t *testing.T) {
	path := writeFixture(t, "h.safetensors",
		hiddenTensor(t, safetensors.F32, []int{1, 2}, []float32{1, 2}),
	)
	dest := filepath.Join(t.TempDir(), "out.jsonl")

	_, err := run(t, "", "pool", "-o", dest, path)
	require.NoError(t, err)
	_, err = run(t, "", "pool", "-o", dest, "--append", path)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, decodeRecords(t, string(data)), 2)

	_, err = run(t, "", "pool", "-o", dest, path)
	require.NoError(t, err)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, decodeRecords(t, string(data)), 1)
}

func TestPoolOverflowingShapeFails(t *testing.T) {
	path := writeFixture(t, "huge.safetensors",
		safetensors.Tensor{Name: defaultHiddenKey, DType: safetensors.F32, Shape: []int{1 << 62, 4}},
	)

	_, err := run(t, "", "pool", path)
	assert.ErrorContains(t, err, "invalid shape")
}

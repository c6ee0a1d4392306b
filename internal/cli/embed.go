package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pooling/internal/engine/embedder"
	"github.com/crimson-sun/pooling/internal/output"
	"github.com/crimson-sun/pooling/pkg/pooling"
)

func newEmbedCmd(a *app) *cobra.Command {
	var (
		strategy  string
		batchSize int
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "embed [TEXT...]",
		Short: "Embed text with the local ONNX encoder",
		Long: `Tokenize each TEXT (or each non-empty stdin line when none are given),
run the ONNX encoder and pool its hidden states into one vector per text.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			texts := args
			if len(texts) == 0 {
				if texts, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if len(texts) == 0 {
				return fmt.Errorf("no input text")
			}

			opts := embedderOptions(a)
			if cmd.Flags().Changed("strategy") {
				if opts.Pooling, err = pooling.ParseStrategy(strategy); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("normalize") {
				opts.Normalize = normalize
			}

			emb, err := embedder.New(opts)
			if err != nil {
				return err
			}
			defer emb.Close()

			out, err := a.openOutput(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			batchSize = max(batchSize, 1)
			for start := 0; start < len(texts); start += batchSize {
				end := min(start+batchSize, len(texts))
				vecs, err := emb.EmbedBatch(texts[start:end])
				if err != nil {
					return err
				}
				slog.Debug("embedded batch", "start", start, "size", end-start)
				for i, vec := range vecs {
					rec := output.Record{Index: start + i, Strategy: opts.Pooling.String(), Vector: vec}
					if err := out.Write(cmd.Context(), rec); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&strategy, "strategy", "s", "", "Pooling strategy: cls or mean (default from config)")
	f.IntVarP(&batchSize, "batch-size", "b", 32, "Texts per inference call")
	f.BoolVar(&normalize, "normalize", false, "L2-normalize embeddings (default from config)")
	return cmd
}

func embedderOptions(a *app) embedder.Options {
	e := a.cfg.Engine
	return embedder.Options{
		ModelPath:      e.ModelPath,
		VocabPath:      e.VocabPath,
		ProjectionPath: e.ProjectionPath,
		Pooling:        e.Pooling,
		Normalize:      e.Normalize,
		MaxSeqLen:      e.MaxSeqLen,
		IntraOpThreads: e.IntraOpThreads,
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return lines, nil
}

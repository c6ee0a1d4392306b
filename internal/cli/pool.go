package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/pooling/internal/output"
	"github.com/crimson-sun/pooling/internal/safetensors"
	"github.com/crimson-sun/pooling/pkg/pooling"
)

const (
	defaultHiddenKey = "last_hidden_state"
	defaultMaskKey   = "attention_mask"
)

type poolSource struct {
	hiddenKey string
	maskKey   string
}

func newPoolCmd(a *app) *cobra.Command {
	var (
		strategy string
		workers  int
		src      poolSource
	)

	cmd := &cobra.Command{
		Use:   "pool FILE...",
		Short: "Pool hidden states stored in safetensors files",
		Long: `Read a hidden-state tensor (batch, tokens, hidden) or (batch, hidden) and,
for mean pooling, an attention mask (batch, tokens) from each safetensors
file, then write one pooled vector per sequence. F32, F16 and BF16 hidden
states are accepted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s := a.cfg.Engine.Pooling
			if cmd.Flags().Changed("strategy") {
				if s, err = pooling.ParseStrategy(strategy); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Workers
			}

			pooled, err := poolFiles(cmd.Context(), args, s, src, workers)
			if err != nil {
				return err
			}

			out, err := a.openOutput(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			for i, r := range pooled {
				for j := 0; j < r.Batch; j++ {
					rec := output.Record{Source: args[i], Index: j, Strategy: s.String(), Vector: r.Row(j)}
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
	f.IntVarP(&workers, "workers", "w", 4, "Files pooled concurrently")
	f.StringVar(&src.hiddenKey, "hidden-key", defaultHiddenKey, "Tensor name of the hidden states")
	f.StringVar(&src.maskKey, "mask-key", defaultMaskKey, "Tensor name of the attention mask")
	return cmd
}

// poolFiles pools every file with at most workers in flight. Results are
// returned in the order of paths; the first failure cancels the rest.
func poolFiles(ctx context.Context, paths []string, s pooling.Strategy, src poolSource, workers int) ([]pooling.Rank2, error) {
	results := make([]pooling.Rank2, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := poolFile(path, s, src)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			slog.Debug("pooled file", "path", path, "strategy", s.String(), "batch", r.Batch, "hidden", r.Hidden)
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func poolFile(path string, s pooling.Strategy, src poolSource) (pooling.Rank2, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return pooling.Rank2{}, err
	}

	data, shape, err := f.Float32(src.hiddenKey)
	if err != nil {
		return pooling.Rank2{}, err
	}
	hidden := pooling.Tensor{Shape: shape, Data: data}

	if s != pooling.Mean {
		return pooling.Pool(s, hidden, pooling.Mask{})
	}

	mask, err := loadMask(f, src.maskKey)
	if err != nil {
		return pooling.Rank2{}, err
	}
	return pooling.Pool(s, hidden, mask)
}

func loadMask(f *safetensors.File, name string) (pooling.Mask, error) {
	data, shape, err := f.Int64(name)
	if err != nil {
		return pooling.Mask{}, err
	}
	if len(shape) != 2 {
		return pooling.Mask{}, fmt.Errorf("%w: attention mask %q must be 2D, got %v", pooling.ErrInvalidShape, name, shape)
	}
	return pooling.Mask{Batch: shape[0], Tokens: shape[1], Data: data}, nil
}

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pooling/internal/config"
	"github.com/crimson-sun/pooling/internal/logging"
	"github.com/crimson-sun/pooling/internal/output"
	"github.com/crimson-sun/pooling/internal/output/file"
	"github.com/crimson-sun/pooling/internal/output/stdout"
)

var (
	Version     = "0.1.0"
	BuildCommit = "unknown"
	BuildDate   = "unknown"
)

// app carries flags and the loaded configuration shared by subcommands.
type app struct {
	cfgFile  string
	logLevel string
	format   string
	outPath  string
	appendTo bool

	cfg *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pooling",
		Short: "Pool transformer token embeddings into sentence vectors",
		Long: `pooling reduces per-token encoder outputs to one vector per sequence,
using either the first ([CLS]) token or the attention-masked mean.

It pools hidden states stored in safetensors files, or runs a local ONNX
encoder over text and pools its output.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default: ./pooling.yaml if present)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.format, "format", "", "Output format: ndjson or json")
	pf.StringVarP(&a.outPath, "output", "o", "", "Write records to this file instead of stdout (always ndjson)")
	pf.BoolVar(&a.appendTo, "append", false, "Append to the --output file instead of truncating it")

	root.AddCommand(newPoolCmd(a), newEmbedCmd(a), newInspectCmd(), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("format") {
		cfg.Output.Format = a.format
	}
	if flags.Changed("output") {
		cfg.Output.Path = a.outPath
	}
	if flags.Changed("append") {
		cfg.Output.Append = a.appendTo
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	slog.Debug("config loaded", "file", a.cfgFile, "pooling", cfg.Engine.Pooling.String())
	a.cfg = cfg
	return nil
}

// openOutput returns the configured destination. Files are always NDJSON.
func (a *app) openOutput(cmd *cobra.Command) (output.Output, error) {
	if a.cfg.Output.Path != "" {
		var opts []file.Option
		if a.cfg.Output.Append {
			opts = append(opts, file.WithAppend())
		}
		return file.New(a.cfg.Output.Path, opts...)
	}
	return stdout.NewWriter(cmd.OutOrStdout(), a.cfg.Output.Format == "json"), nil
}

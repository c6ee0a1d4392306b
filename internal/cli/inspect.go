package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/pooling/internal/safetensors"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the tensors in a safetensors file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := safetensors.Open(args[0])
			if err != nil {
				return err
			}

			var data [][]string
			for _, name := range f.Names() {
				info, _ := f.Info(name)
				data = append(data, []string{name, info.DType, formatShape(info.Shape)})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"NAME", "DTYPE", "SHAPE"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			if len(f.Metadata) > 0 {
				keys := make([]string, 0, len(f.Metadata))
				for k := range f.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintln(cmd.OutOrStdout())
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, f.Metadata[k])
				}
			}
			return nil
		},
	}
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

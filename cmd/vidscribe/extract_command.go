package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/runtime"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <source> [waveform]",
		Short: "Convert the audio track of source to a canonical waveform",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				dest := rt.Config().Pipeline.Waveform
				if len(args) == 2 {
					dest = args[1]
				}
				if err := rt.Extractor().Extract(cmd.Context(), args[0], dest); err != nil {
					ctx.logger.Error("Conversion error: "+err.Error(), slog.String("error", err.Error()))
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dest)
				return nil
			})
		},
	}
}

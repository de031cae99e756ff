package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/pipeline"
	"github.com/loqalabs/vidscribe/internal/runtime"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var req pipeline.Request

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the audio track and write its transcript",
		Long: `Convert the input to a mono 16-bit 16 kHz waveform, stream it through the
recognizer and write the joined transcript. Stage failures are reported in the
log and do not change the exit status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				p, err := rt.Pipeline()
				if err != nil {
					return err
				}
				out, err := p.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				if out.Succeeded() {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s wrote %s\n", out.RunID, out.Output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&req.Input, "input", "i", "", "Source video or container (default pipeline.input)")
	cmd.Flags().StringVarP(&req.Output, "output", "o", "", "Transcript file (default pipeline.output)")
	cmd.Flags().StringVar(&req.Waveform, "waveform", "", "Intermediate waveform file (default pipeline.waveform)")
	cmd.Flags().StringVar(&req.ModelPath, "model", "", "Recognition model directory (default stt.model_path)")
	cmd.Flags().StringVar(&req.Vocabulary, "words", "", "Custom vocabulary file (default pipeline.vocabulary)")
	return cmd
}

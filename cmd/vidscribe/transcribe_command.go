package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/runtime"
	"github.com/loqalabs/vidscribe/internal/transcribe"
	"github.com/loqalabs/vidscribe/internal/vocab"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var modelPath string
	var wordsPath string

	cmd := &cobra.Command{
		Use:   "transcribe <waveform>",
		Short: "Transcribe a canonical waveform and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				cfg := rt.Config()
				if modelPath == "" {
					modelPath = cfg.STT.ModelPath
				}
				if wordsPath == "" {
					wordsPath = cfg.Pipeline.Vocabulary
				}
				words, err := vocab.Load(wordsPath)
				if err != nil {
					return err
				}
				tr, err := rt.Transcriber()
				if err != nil {
					return err
				}
				text, err := tr.Transcribe(cmd.Context(), transcribe.Request{
					WaveformPath: args[0],
					ModelPath:    modelPath,
					Vocabulary:   words,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Recognition model directory (default stt.model_path)")
	cmd.Flags().StringVar(&wordsPath, "words", "", "Custom vocabulary file (default pipeline.vocabulary)")
	return cmd
}

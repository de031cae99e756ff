package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/stt"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "vidscribe %s (vosk backend: %s)\n", version, yesNo(stt.VoskAvailable()))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/versecatch/internal/stream"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a client API key and the hash for server.api_key_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(buf)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "api_key:      %s\n", key)
			fmt.Fprintf(out, "api_key_hash: %s\n", stream.HashAPIKey(key))
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/keysweep/internal/job"
	"github.com/dreamware/keysweep/internal/oracle"
)

func newEncryptCmd() *cobra.Command {
	var (
		key     uint64
		in, out string
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a plaintext file with DES-ECB",
		Long: `Encrypt a plaintext file under a candidate key, zero-padded to whole
8-byte blocks. Inputs over 3500 bytes are refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read plaintext: %w", err)
			}
			ct, err := oracle.Encrypt(key, plain)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, ct, 0o644); err != nil {
				return fmt.Errorf("write ciphertext: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(ct), out)
			return nil
		},
	}
	cmd.Flags().Uint64VarP(&key, "key", "k", 0, "key to encrypt with")
	cmd.Flags().StringVarP(&in, "in", "i", "", "plaintext file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "ciphertext file to write")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var (
		key uint64
		in  string
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Print a ciphertext file decrypted under a key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := oracle.LoadCiphertext(in)
			if err != nil {
				return err
			}
			pt, _ := job.Render(oracle.DecryptFunc(oracle.Decrypt), ct, key)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", pt)
			return nil
		},
	}
	cmd.Flags().Uint64VarP(&key, "key", "k", 0, "key to decrypt with")
	cmd.Flags().StringVarP(&in, "in", "i", "", "ciphertext file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqtls-bench/pkg/credentials"
)

func newGenCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Generate a self-signed server credential pair",
		Long: fmt.Sprintf(`Generate a private key and a self-signed certificate for server-run.

Supported algorithms: %s.
Existing files are never overwritten.`, strings.Join(credentials.Algorithms(), ", ")),
		Example: `  pqtls-bench gen-cert --algo-name p256 \
      --output-certificate-file server.crt --private-key-file server.key`,
		Args: cobra.NoArgs,
		RunE: runGenCert,
	}

	flags := cmd.Flags()
	flags.String("algo-name", "", "Key algorithm (required)")
	flags.String("output-certificate-file", "", "Certificate output path (required)")
	flags.String("private-key-file", "", "Private key output path (required)")
	_ = cmd.MarkFlagRequired("algo-name")
	_ = cmd.MarkFlagRequired("output-certificate-file")
	_ = cmd.MarkFlagRequired("private-key-file")
	return cmd
}

func runGenCert(cmd *cobra.Command, _ []string) error {
	algo, _ := cmd.Flags().GetString("algo-name")
	certPath, _ := cmd.Flags().GetString("output-certificate-file")
	keyPath, _ := cmd.Flags().GetString("private-key-file")

	creds, err := credentials.Generate(algo)
	if err != nil {
		return err
	}
	if err := creds.WritePEM(certPath, keyPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s certificate written to %s\n", algo, certPath)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Private key written to %s\n", keyPath)
	return nil
}

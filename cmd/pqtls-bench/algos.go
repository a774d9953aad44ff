package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqtls-bench/pkg/policy"
	"github.com/pzverkov/pqtls-bench/pkg/pqc"
)

func newAlgosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "algos",
		Short: "List key-exchange groups and signature algorithms",
		Long: `List every key-exchange group and signature algorithm in the compiled-in
preference lists.

"native" entries can be negotiated by the TLS stack. Other entries are known
names kept for comparison with OpenSSL-based runs; where the post-quantum
provider implements the scheme its key and ciphertext or signature sizes are
shown.`,
		Args: cobra.NoArgs,
		RunE: runAlgos,
	}
	cmd.Flags().Bool("native-only", false, "Show only natively negotiable entries")
	return cmd
}

func runAlgos(cmd *cobra.Command, _ []string) error {
	provider, err := pqc.Install()
	if err != nil {
		return err
	}
	nativeOnly, _ := cmd.Flags().GetBool("native-only")

	pol := policy.Default()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Key-exchange groups:")
	printGroups(out, pol.Groups(), provider, nativeOnly)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Signature algorithms:")
	printSigAlgs(out, pol.SigAlgs(), provider, nativeOnly)
	return nil
}

func printGroups(out io.Writer, entries []policy.Entry, provider *pqc.Provider, nativeOnly bool) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tSUPPORT\tPUBLIC KEY\tCIPHERTEXT")
	for _, e := range entries {
		if nativeOnly && !e.Native {
			continue
		}
		pk, ct := "-", "-"
		if info, ok := provider.Group(e.Name); ok {
			pk, ct = fmt.Sprintf("%d B", info.PublicKeySize), fmt.Sprintf("%d B", info.CiphertextSize)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Name, support(e.Native), pk, ct)
	}
	_ = tw.Flush()
}

func printSigAlgs(out io.Writer, entries []policy.Entry, provider *pqc.Provider, nativeOnly bool) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tSUPPORT\tPUBLIC KEY\tSIGNATURE")
	for _, e := range entries {
		if nativeOnly && !e.Native {
			continue
		}
		pk, sig := "-", "-"
		if info, ok := provider.SigAlg(e.Name); ok {
			pk, sig = fmt.Sprintf("%d B", info.PublicKeySize), fmt.Sprintf("%d B", info.SignatureSize)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Name, support(e.Native), pk, sig)
	}
	_ = tw.Flush()
}

func support(native bool) string {
	if native {
		return "native"
	}
	return "extended"
}

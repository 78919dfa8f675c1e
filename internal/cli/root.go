// Package cli implements the refang command-line interface using cobra.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refang",
		Short: "Normalize and de-obfuscate URLs from threat intel",
		Long: `Refang turns defanged, obfuscated, or wrapper-laundered URLs back into
canonical addresses suitable for reputation lookup or blocklisting.

The pipeline unwraps link-protection gateways (ATP Safe Links, Proofpoint
urldefense), reverses defanging ([.] dots, hxxp schemes, entity and percent
escapes), repairs malformed scheme prefixes, and can follow one layer of
HTTP redirection to report the final destination.

Quick start:
  refang format 'hxxps://evil[.]com/payload'
  refang format --resolve 'https://bit.ly/abc'
  refang format --in urls.txt --json
  refang serve --listen 127.0.0.1:8787`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		formatCmd(),
		serveCmd(),
		versionCmd(),
	)

	return cmd
}

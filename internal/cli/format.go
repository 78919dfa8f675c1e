package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luckyPipewrench/refang/internal/config"
	"github.com/luckyPipewrench/refang/internal/diag"
	"github.com/luckyPipewrench/refang/internal/pipeline"
)

func formatCmd() *cobra.Command {
	var (
		configFile  string
		inFile      string
		resolveFlag bool
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "format [url...]",
		Short: "Normalize and de-obfuscate one or more URLs",
		Long: `Normalize URLs given as arguments or read one per line from a file.

Each URL is refanged ([.] dots, hxxp schemes), unwrapped from known
link-protection gateways, unescaped, and its scheme prefix repaired.
With --resolve, one bounded HTTP request follows redirects and the final
destination is reported alongside the formatted URL; resolution failures
degrade silently to the formatted URL alone.

Examples:
  refang format 'hxxp://evil[.]com/a'
  refang format --resolve 'https://t.co/abc'
  refang format --in feed.txt --json
  cat urls.txt | refang format --in -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("resolve") {
				resolveFlag = cfg.Resolve.Enabled
			}

			log, err := newDiagLogger(cfg)
			if err != nil {
				return fmt.Errorf("creating diagnostics logger: %w", err)
			}
			defer log.Close()

			inputs, err := gatherInputs(args, inFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return errors.New("no input url: pass arguments or --in")
			}

			// Rate-limit resolutions in batch runs so a feed pass does
			// not hammer redirect gateways.
			var limiter *rate.Limiter
			if resolveFlag && cfg.Resolve.RatePerSecond > 0 {
				limiter = rate.NewLimiter(rate.Limit(cfg.Resolve.RatePerSecond), 1)
			}

			f := pipeline.New(cfg, log, nil)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)

			for _, raw := range inputs {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return fmt.Errorf("rate limiter interrupted: %w", err)
					}
				}
				urls, err := f.Run(ctx, raw, resolveFlag)
				if err != nil {
					return fmt.Errorf("formatting %q: %w", raw, err)
				}
				if jsonOut {
					if err := enc.Encode(struct {
						Input string   `json:"input"`
						URLs  []string `json:"urls"`
					}{Input: raw, URLs: urls}); err != nil {
						return err
					}
					continue
				}
				for _, u := range urls {
					fmt.Fprintln(out, u)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&inFile, "in", "", "read URLs one per line from file (- for stdin)")
	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "follow one layer of HTTP redirection")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit one JSON object per input")

	return cmd
}

// loadConfig reads path when given, otherwise returns built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

// newDiagLogger builds the diagnostics logger from config.
func newDiagLogger(cfg *config.Config) (*diag.Logger, error) {
	return diag.New(cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File, cfg.Logging.Debug)
}

// gatherInputs merges argument URLs with --in lines. Blank lines and #
// comments in files are skipped.
func gatherInputs(args []string, inFile string, stdin io.Reader) ([]string, error) {
	inputs := append([]string(nil), args...)
	if inFile == "" {
		return inputs, nil
	}

	var r io.Reader
	if inFile == "-" {
		r = stdin
	} else {
		f, err := os.Open(inFile) //nolint:gosec // G304: path comes from flags
		if err != nil {
			return nil, fmt.Errorf("opening input file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return inputs, nil
}

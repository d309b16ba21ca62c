// Package cmd implements the threatctl commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/engine"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "threatctl",
	Short: "ThreatPulse offline analytics",
	Long: `threatctl runs the ThreatPulse engine over saved search responses.

Point it at raw suricata, sophos and panw responses captured from the
search backend to reproduce a summary or a filtered event list without a
running server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (engine and auth sections are used)")
	rootCmd.PersistentFlags().Bool("pretty", true, "indent JSON output")
}

func initConfig() {
	cfg = config.DefaultConfig()
	if cfgFile == "" {
		return
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		return
	}
	cfg = loaded
}

// sourceFlags names the per-source input flags in canonical order.
var sourceFlags = map[telemetry.EventType]string{
	telemetry.EventTypeSuricata: "suricata",
	telemetry.EventTypeSophos:   "sophos",
	telemetry.EventTypePANW:     "panw",
}

func addSourceFlags(c *cobra.Command) {
	for _, source := range telemetry.EventTypes() {
		c.Flags().String(sourceFlags[source], "", fmt.Sprintf("raw %s search response file", source))
	}
	c.Flags().StringArrayP("input", "i", nil, "response file as source=path (repeatable)")
}

// readBatches loads every source file given on the command line, through the
// per-source flags or --input. Sources without a file get an empty batch.
func readBatches(c *cobra.Command) (telemetry.Batches, error) {
	paths := map[telemetry.EventType]string{}
	for _, source := range telemetry.EventTypes() {
		if path, _ := c.Flags().GetString(sourceFlags[source]); path != "" {
			paths[source] = path
		}
	}

	inputs, _ := c.Flags().GetStringArray("input")
	for _, in := range inputs {
		name, path, ok := strings.Cut(in, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid input %q: want source=path", in)
		}
		source, err := telemetry.ParseEventType(name)
		if err != nil {
			return nil, err
		}
		if _, dup := paths[source]; dup {
			return nil, fmt.Errorf("%s response given more than once", source)
		}
		paths[source] = path
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one of --suricata, --sophos, --panw or --input is required")
	}

	batches := telemetry.Batches{}
	for source, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", source, err)
		}
		batches[source] = data
	}
	return batches, nil
}

func newEngine() (*engine.Engine, error) {
	matcher, err := cfg.InternalMatcher()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Internal: matcher}, zap.NewNop()), nil
}

func writeJSON(c *cobra.Command, w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if pretty, _ := c.Flags().GetBool("pretty"); pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

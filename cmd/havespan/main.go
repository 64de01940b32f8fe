// Command-line span assertions over recorded trace dumps
// Reads stdouttrace or OTLP JSON and evaluates HaveSpan matchers against it
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/andrewh/havespan/pkg/span"
	"github.com/andrewh/havespan/pkg/span/spanimport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// envPrefix namespaces environment overrides, e.g. HAVESPAN_FORMAT.
const envPrefix = "HAVESPAN"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// settings holds the persistent flags, resolved through viper so that
// environment variables apply when a flag is not given.
type settings struct {
	v *viper.Viper
}

func newSettings(cmd *cobra.Command) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"format", "verbose"} {
		if err := v.BindPFlag(name, cmd.Flag(name)); err != nil {
			return nil, fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return &settings{v: v}, nil
}

func (s *settings) format() spanimport.Format {
	return spanimport.Format(s.v.GetString("format"))
}

func (s *settings) logger() *zap.Logger {
	if !s.v.GetBool("verbose") {
		return zap.NewNop()
	}
	return newLogger(zapcore.DebugLevel)
}

// newLogger writes JSON lines to stderr so diagnostics never mix with
// command output.
func newLogger(level zapcore.LevelEnabler) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "havespan",
		Short:        "Assert on spans in recorded OpenTelemetry trace dumps",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("format", string(spanimport.FormatAuto), "input format: auto, stdouttrace, otlp")
	root.PersistentFlags().BoolP("verbose", "v", false, "log matcher evaluation to stderr")

	root.AddCommand(checkCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(spansCmd())
	root.AddCommand(versionCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "havespan %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}

// loadSpans reads the trace dump at path, or the command's stdin when the
// path is empty or "-".
func loadSpans(cmd *cobra.Command, path string, format spanimport.Format) (span.Collection, error) {
	if path == "" || path == "-" {
		return spanimport.ParseSpans(cmd.InOrStdin(), format)
	}
	return spanimport.Load(path, format)
}

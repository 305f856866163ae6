// Package cli implements the asmdump command line.
package cli

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jtang613/gometa/internal/config"
	"github.com/jtang613/gometa/internal/logging"
	"github.com/jtang613/gometa/pkg/assembly"
)

// Version is set at build time.
var Version = "dev"

// flags are the persistent flags shared by every subcommand.
type flags struct {
	configPath string
	logLevel   string
	pretty     bool
	strategy   string
	probeDirs  []string
}

// env is what a subcommand runs with once flags and config are merged.
type env struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewRootCmd builds the asmdump command tree.
func NewRootCmd() *cobra.Command {
	var (
		f flags
		e env
	)

	cmd := &cobra.Command{
		Use:   "asmdump",
		Short: "Dump the metadata of managed assemblies as JSON",
		Long: `asmdump reads a managed assembly and prints what a build needs to know
about it: referenced assemblies, the files of a multi-file assembly, the
target framework and the runtime version it was compiled against.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("log-level") {
				cfg.Log.Level = f.logLevel
			}
			if fl.Changed("pretty") {
				cfg.Output.Pretty = f.pretty
			}
			if fl.Changed("strategy") {
				cfg.Strategy = f.strategy
			}
			cfg.ProbeDirs = append(cfg.ProbeDirs, f.probeDirs...)
			if err := cfg.Validate(); err != nil {
				return err
			}

			lc := cfg.LoggingConfig()
			lc.Output = cmd.ErrOrStderr()
			e.cfg = cfg
			e.log = logging.NewWithComponent(lc, "asmdump")
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&f.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&f.pretty, "pretty", true, "indent JSON output")
	pf.StringVar(&f.strategy, "strategy", config.StrategyTables, "decoding strategy (tables or inspect)")
	pf.StringSliceVar(&f.probeDirs, "probe-dir", nil, "extra directory to resolve dependencies from (inspect strategy)")

	cmd.AddCommand(
		newInfoCmd(&e),
		newDepsCmd(&e),
		newFilesCmd(&e),
		newFrameworkCmd(&e),
		newRuntimeCmd(&e),
		newAllCmd(&e),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("asmdump version %s\n", Version)
		},
	}
}

func (e *env) options() []assembly.Option {
	return []assembly.Option{
		assembly.WithLogger(e.log),
		assembly.WithStrategy(assembly.Strategy(e.cfg.Strategy)),
		assembly.WithProbeDirs(e.cfg.ProbeDirs...),
	}
}

// run opens the assembly at path, builds the result with fn and writes it.
func (e *env) run(cmd *cobra.Command, path string, fn func(*assembly.Assembly) (interface{}, error)) error {
	return assembly.With(path, func(a *assembly.Assembly) error {
		v, err := fn(a)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), v, e.cfg.Output.Pretty)
	}, e.options()...)
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return errors.Wrap(enc.Encode(v), "failed to encode JSON")
}

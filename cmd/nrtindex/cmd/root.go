// Package cmd provides the CLI commands for nrtindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtindex/internal/config"
	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/logging"
	"github.com/Aman-CERP/nrtindex/internal/output"
	"github.com/Aman-CERP/nrtindex/internal/profiling"
	"github.com/Aman-CERP/nrtindex/internal/ui"
	"github.com/Aman-CERP/nrtindex/pkg/engine"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
	"github.com/Aman-CERP/nrtindex/pkg/version"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	debug      bool
	noColor    bool

	dir      string
	index    string
	fields   []string
	kind     string
	manual   bool
	analyzer string
	facets   []string

	profile profiling.Options

	cfg      *config.Config
	logger   *slog.Logger
	cleanup  func()
	profiler *profiling.Session
}

// NewRootCmd creates the root command for the nrtindex CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "nrtindex",
		Short: "Near-real-time full-text index engine",
		Long: `nrtindex maintains named full-text and exact-match indexes on disk.

Writes are visible to the next query made by the same process while
segments are committed in the background.

Examples:
  nrtindex put '#12:0' "the quick brown fox" --index notes --fields body
  nrtindex query "quick AND fox" --index notes --fields body
  nrtindex info --index notes`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("nrtindex version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/nrtindex/config.yaml)")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.nrtindex/logs/")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&opts.dir, "dir", "", "Index directory (default <base_dir>/<index>)")
	pf.StringVarP(&opts.index, "index", "i", "default", "Index name")
	pf.StringSliceVar(&opts.fields, "fields", nil, "Indexed field names, in key order")
	pf.StringVarP(&opts.kind, "type", "t", "fulltext", "Index type: fulltext, exact")
	pf.BoolVar(&opts.manual, "manual", false, "Stage writes until commit instead of indexing them immediately")
	pf.StringVar(&opts.analyzer, "analyzer", "", "Analyzer for a new index (default from config)")
	pf.StringSliceVar(&opts.facets, "facet", nil, "Facet-enabled field (repeatable)")
	pf.StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.setup()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newPutCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newInfoCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), ixerrors.FormatForCLI(err))
		return err
	}
	return nil
}

// setup loads the configuration, starts file logging and any requested
// profiles.
func (o *globalOptions) setup() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if o.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.logger = logger
	o.cleanup = cleanup
	slog.SetDefault(logger)
	if o.debug {
		logger.Debug("debug_logging_enabled", slog.String("log_file", logCfg.FilePath))
	}

	if o.profile.Enabled() {
		if o.profiler, err = profiling.Start(o.profile); err != nil {
			return err
		}
	}
	return nil
}

func (o *globalOptions) teardown() error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
	}
	if o.cleanup != nil {
		o.cleanup()
		o.cleanup = nil
	}
	return err
}

func (o *globalOptions) definition() (keys.Definition, error) {
	var defOpts []keys.DefinitionOption
	switch strings.ToLower(o.kind) {
	case "fulltext", "full-text", "":
		defOpts = append(defOpts, keys.WithType(keys.FullText))
	case "exact":
		defOpts = append(defOpts, keys.WithType(keys.Exact))
	default:
		return keys.Definition{}, ixerrors.ValidationError(fmt.Sprintf("unknown index type %q", o.kind), nil)
	}
	if !o.manual {
		defOpts = append(defOpts, keys.WithAutomatic())
	}
	return keys.NewDefinition(o.index, o.fields, defOpts...)
}

// openEngine creates or opens the selected index. The caller must Close it.
func (o *globalOptions) openEngine(ctx context.Context) (*engine.Engine, error) {
	def, err := o.definition()
	if err != nil {
		return nil, err
	}
	engOpts := []engine.Option{engine.WithConfig(o.cfg), engine.WithLogger(o.logger)}
	if o.dir != "" {
		engOpts = append(engOpts, engine.WithDir(o.dir))
	}
	eng, err := engine.New(o.index, def, engOpts...)
	if err != nil {
		return nil, err
	}
	meta := engine.Metadata{Analyzer: o.analyzer, Version: version.Short(), FacetFields: o.facets}
	if err := eng.Create(ctx, meta); err != nil {
		return nil, err
	}
	return eng, nil
}

func (o *globalOptions) output(cmd *cobra.Command) *output.Writer {
	w := cmd.OutOrStdout()
	return output.NewWithStyles(w, ui.StylesFor(w, o.noColor))
}

// closeEngine closes eng, keeping the first error.
func closeEngine(eng *engine.Engine, err *error) {
	if cerr := eng.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// parseValues converts command-line values into a key: integers become
// longs, other numbers doubles, everything else strings. Several values
// form a composite key.
func parseValues(values []string) (keys.Key, error) {
	parts := make([]any, len(values))
	for i, v := range values {
		parts[i] = parseValue(v)
	}
	if len(parts) == 1 {
		s, err := keys.NewScalar(parts[0])
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	c, err := keys.NewComposite(parts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func parseValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

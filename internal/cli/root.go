package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/db"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/setup"
	"github.com/pys60/pysbuild/internal/toolchain"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "pysbuild",
	Short: "Build and release Python for S60",
	Long: `pysbuild configures, builds, tests and packages the Python for S60 source
tree against the Symbian SDKs, and runs the integration and release pipelines
that produce every SIS package, SDK zip and installer of a release.

Host settings are read from ./pysbuild.yaml or ~/.pysbuild/config.yaml.
Runs are recorded in the ledger at ~/.pysbuild/ledger.db.`,
	SilenceUsage: true,
}

// Execute runs the root command. An interrupt cancels the running command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Host settings file (default: ./pysbuild.yaml, ~/.pysbuild/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().StringP("source-root", "C", ".", "Python for S60 source tree")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(dbCmd)
	for _, c := range setupCmds {
		rootCmd.AddCommand(c)
	}
}

// loadSettings loads the host settings named by --config, or the default
// locations, and applies the logging flags.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		s   *config.Settings
		err error
	)
	if path != "" {
		s, err = config.Load(path)
	} else {
		s, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		s.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		s.Log.Format = v
	}
	if errs := config.Validate(s); len(errs) > 0 {
		joined := make([]error, 0, len(errs))
		for _, e := range errs {
			joined = append(joined, e)
		}
		return nil, fmt.Errorf("invalid settings: %w", errors.Join(joined...))
	}
	return s, nil
}

// commandContext returns the command context carrying a logger built from
// the settings.
func commandContext(cmd *cobra.Command, s *config.Settings) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithLogger(ctx, logging.New(s.Log.Level, s.Log.Format, cmd.ErrOrStderr()))
}

// sourceRoot is the absolute --source-root.
func sourceRoot(cmd *cobra.Command) string {
	root, _ := cmd.Flags().GetString("source-root")
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

func newToolchain(s *config.Settings, r toolchain.Runner) *toolchain.Toolchain {
	return toolchain.New(r, toolchain.Config{
		Python:            s.Tools.Python,
		Perl:              s.Tools.Perl,
		ScanLogScript:     s.ScanLogPath(),
		SVNVersion:        s.Tools.SVNVersion,
		InstallerCompiler: s.Tools.InstallerCompiler,
	})
}

// newEnv loads settings and catalog and returns the setup environment of the
// source tree.
func newEnv(cmd *cobra.Command) (*setup.Env, context.Context, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.LoadOrBuiltin(s.Catalog)
	if err != nil {
		return nil, nil, err
	}
	tools := newToolchain(s, &toolchain.ExecRunner{Output: cmd.OutOrStdout()})
	return setup.NewEnv(sourceRoot(cmd), s, tools, cat), commandContext(cmd, s), nil
}

// openLedger opens and migrates the run ledger, returning it with a cleanup
// func.
func openLedger(s *config.Settings) (*db.DB, func(), error) {
	path := s.Ledger.Path
	if path == "" {
		var err error
		if path, err = config.DefaultLedgerPath(); err != nil {
			return nil, nil, err
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/db"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/metrics"
	"github.com/pys60/pysbuild/internal/orchestrator"
	"github.com/pys60/pysbuild/internal/setup"
	"github.com/pys60/pysbuild/internal/toolchain"
)

const buildFailed = "*** BUILD FAILED ***"

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Run the default, integration or release build pipeline",
	Long: `release builds the selected platforms and flavors and moves every
deliverable into the work area. --integration-build and --release-build run
the fixed integration and release pipelines instead; a release build wins
when both are given.

The work area is recreated on every run. The build log is written to
<work-area>/test/pys60_build_log_<date>.log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runRelease(cmd)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), buildFailed)
		}
		return err
	},
}

func runRelease(cmd *cobra.Command) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cat, err := catalog.LoadOrBuiltin(s.Catalog)
	if err != nil {
		return err
	}
	root := sourceRoot(cmd)
	ctx := commandContext(cmd, s)
	log := logging.FromContext(ctx)

	runner := &toolchain.ExecRunner{}
	tools := newToolchain(s, runner)
	opts := releaseOptions(cmd.Flags())
	if opts.NeedsRevision() {
		rev, err := tools.Revision(ctx, revisionDir(root, s.Paths.RevisionDir))
		if err != nil {
			log.Warn("revision lookup failed, using a timestamp tag", "err", err)
		}
		opts.Revision = rev
	}
	cfg, err := config.Resolve(cat, opts)
	if err != nil {
		return err
	}

	workArea := cfg.WorkArea
	if !filepath.IsAbs(workArea) {
		workArea = filepath.Join(root, workArea)
	}
	if err := artifact.PrepareWorkArea(workArea); err != nil {
		return err
	}
	logFile, logPath, err := logging.OpenRunLog(filepath.Join(workArea, artifact.TestDir), time.Now())
	if err != nil {
		return err
	}
	defer logFile.Close()
	runner.Output = logFile
	log = logging.New(s.Log.Level, s.Log.Format, io.MultiWriter(cmd.ErrOrStderr(), logFile))
	ctx = logging.WithLogger(ctx, log)
	log.Info("build log", "file", logPath)

	orch := &orchestrator.Orchestrator{
		Steps:      setup.NewEnv(root, s, tools, cfg.Catalog),
		Tools:      tools,
		Config:     cfg,
		Settings:   s,
		SourceRoot: root,
		Host:       hostname(),
	}
	ledger, closeLedger, err := openLedger(s)
	if err != nil {
		log.Warn("run ledger unavailable", "err", err)
	} else {
		defer closeLedger()
		orch.Ledger = ledger
	}
	if s.Ledger.EventsDSN != "" {
		mirror, err := db.OpenMirror(s.Ledger.EventsDSN)
		if err != nil {
			log.Warn("event mirror unavailable", "err", err)
		} else {
			defer mirror.Close()
			orch.Mirror = mirror
		}
	}
	tools.SetObserver(orch.ObserveTool)

	runErr := orch.Run(ctx)
	writeMetrics(ctx, orch.WorkArea())
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Build finished: %s\n", orch.WorkArea())
	return nil
}

func writeMetrics(ctx context.Context, workArea string) {
	if workArea == "" {
		return
	}
	path := filepath.Join(workArea, artifact.TestDir, metrics.TextfileName)
	if err := metrics.WriteTextfile(path); err != nil {
		logging.FromContext(ctx).Warn("metrics textfile not written", "file", path, "err", err)
	}
}

// revisionDir is the working copy svnversion is asked about, relative to
// the source root.
func revisionDir(root, dir string) string {
	if dir == "" {
		return root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func releaseOptions(f *pflag.FlagSet) config.Options {
	var o config.Options
	o.SDK, _ = f.GetString("sdk")
	o.Flavors, _ = f.GetString("flavors")
	o.Version, _ = f.GetString("version")
	o.VersionTag, _ = f.GetString("version-tag")
	o.Targets, _ = f.GetString("targets")
	o.WorkArea, _ = f.GetString("work-area")
	o.KeyDir, _ = f.GetString("keydir")
	o.CompressionType, _ = f.GetString("compression-type")
	o.CompilerFlags, _ = f.GetString("compiler-flags")
	o.Docs, _ = f.GetBool("docs")
	o.ReleaseBuild, _ = f.GetBool("release-build")
	o.IntegrationBuild, _ = f.GetBool("integration-build")
	o.InternalProjects, _ = f.GetBool("internal-projects")
	o.IncludeInternalSrc, _ = f.GetBool("include-internal-src")
	o.Installer, _ = f.GetBool("installer")
	o.WithoutEnsymble, _ = f.GetBool("without-ensymble")
	o.WithoutSrcZip, _ = f.GetBool("without-src-zip")
	o.CreateTempSDKZip, _ = f.GetBool("create-temp-sdk-zip")
	o.ProfileLog, _ = f.GetBool("profile_log")
	return o
}

func init() {
	addReleaseFlags(releaseCmd.Flags())
}

func addReleaseFlags(f *pflag.FlagSet) {
	d := config.DefaultOptions()
	f.StringP("sdk", "s", d.SDK, "Comma separated platforms to build")
	f.StringP("flavors", "f", "", "Comma separated flavors (default: every flavor in the catalog)")
	f.StringP("version", "v", d.Version, "Python for S60 version, major.minor.micro")
	f.StringP("version-tag", "r", "", "Version tag (default: svn<revision>)")
	f.StringP("targets", "t", d.Targets, "Targets: emu, device or all")
	f.String("work-area", d.WorkArea, "Directory receiving the deliverables")
	f.StringP("keydir", "k", d.KeyDir, "Directory holding the signing keys")
	f.String("compression-type", "", "elftran compression type")
	f.String("compiler-flags", "", "Extra compiler flags")
	f.BoolP("docs", "d", false, "Generate the documentation")
	f.Bool("release-build", false, "Run the release pipeline")
	f.Bool("integration-build", false, "Run the integration pipeline")
	f.Bool("internal-projects", false, "Build the internal test projects")
	f.Bool("include-internal-src", false, "Include the internal sources")
	f.Bool("installer", false, "Assemble the installer (integration builds)")
	f.Bool("without-ensymble", false, "Skip regenerating the ensymble module repository")
	f.Bool("without-src-zip", false, "Skip the source zip (release builds)")
	f.Bool("create-temp-sdk-zip", false, "Also create the temporary 3rd edition SDK zip")
	f.BoolP("profile_log", "p", false, "Enable interpreter profiling logs")
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/setup"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure the source tree for an SDK and write build.cfg",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		snap, err := env.Configure(ctx, configureOptions(cmd.Flags()))
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Configured for %s (%s %s%s, profile %s)\n",
			snap.SDKFullName(), snap.VersionNum, snap.VersionTag, signedSuffix(snap), snap.BuildProfile)
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the configured tree for the emulator, the device or both",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		emu, _ := cmd.Flags().GetBool("emu")
		device, _ := cmd.Flags().GetBool("device")
		sub, _ := cmd.Flags().GetString("subsystem")
		return env.Build(ctx, setup.BuildOptions{Emu: emu, Device: device, Subsystem: sub})
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the regression suite on the emulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		opts := setup.TestOptions{}
		if n, _ := cmd.Flags().GetInt("testset-size"); n > 0 {
			opts.Args = []string{"--testset-size", strconv.Itoa(n)}
		}
		opts.SDKVersion, _ = cmd.Flags().GetString("sdk-version")
		opts.UseTestsetsCfg, _ = cmd.Flags().GetBool("use-testsets-cfg")
		report, err := env.Test(ctx, opts)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		switch {
		case report.Log == "":
			fmt.Fprintln(w, "No regression log was produced.")
		case report.TimedOut:
			fmt.Fprintf(w, "Test harness timed out; partial log in %s\n", report.Log)
		default:
			fmt.Fprintf(w, "Regression log: %s (exit %d)\n", report.Log, report.ExitCode)
		}
		return nil
	},
}

var bdistSDKCmd = &cobra.Command{
	Use:   "bdist_sdk",
	Short: "Package the SDK zip",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		temp, _ := cmd.Flags().GetBool("create-temp-sdk-zip")
		zip, err := env.BdistSDK(ctx, temp)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), zip)
		return nil
	},
}

var bdistSISCmd = &cobra.Command{
	Use:   "bdist_sis",
	Short: "Build the SIS packages, signed when a key is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		keyDir, _ := cmd.Flags().GetString("keydir")
		key, _ := cmd.Flags().GetString("key")
		return env.BdistSIS(ctx, keyDir, key)
	},
}

var setcapsCmd = &cobra.Command{
	Use:   "setcaps",
	Short: "Rewrite the capabilities of the built device binaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		caps, _ := cmd.Flags().GetString("caps")
		exe, _ := cmd.Flags().GetString("exe-caps")
		return env.SetCaps(ctx, caps, exe)
	},
}

var generateDocsCmd = &cobra.Command{
	Use:   "generate_docs",
	Short: "Generate the documentation into the work area",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		workArea, _ := cmd.Flags().GetString("work-area")
		return env.GenerateDocs(ctx, workArea)
	},
}

var generateEnsymbleCmd = &cobra.Command{
	Use:   "generate_ensymble",
	Short: "Regenerate the ensymble module repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		return env.GenerateEnsymble(ctx)
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Build instrumented, run the tests and collect the coverage report",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		workArea, _ := cmd.Flags().GetString("work-area")
		return env.Coverage(ctx, workArea)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every configure and build output",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		return env.Clean(ctx)
	},
}

var obbCmd = &cobra.Command{
	Use:   "obb",
	Short: "One button build: configure, build, ensymble, SDK zip and SIS",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		return env.OBB(ctx, configureOptions(cmd.Flags()))
	},
}

var testDeviceLocalCmd = &cobra.Command{
	Use:   "test_device_local",
	Short: "Run the device tests on a locally attached phone",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		return env.TestDeviceLocal(ctx)
	},
}

var testDeviceRemoteCmd = &cobra.Command{
	Use:   "test_device_remote",
	Short: "Run the device tests on the remote device farm",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, ctx, err := newEnv(cmd)
		if err != nil {
			return err
		}
		return env.TestDeviceRemote(ctx)
	},
}

// setupCmds are the per tree commands, in the order they are listed.
var setupCmds = []*cobra.Command{
	configureCmd, buildCmd, testCmd, bdistSDKCmd, bdistSISCmd, setcapsCmd,
	generateDocsCmd, generateEnsymbleCmd, coverageCmd, cleanCmd, obbCmd,
	testDeviceLocalCmd, testDeviceRemoteCmd,
}

func addConfigureFlags(f *pflag.FlagSet) {
	d := config.DefaultConfigureOptions()
	f.StringP("sdk", "s", d.SDK, "SDK to configure for")
	f.StringP("version", "v", d.Version, "Python for S60 version, major.minor.micro")
	f.StringP("version-tag", "r", d.VersionTag, "Version tag")
	f.StringP("caps", "c", d.Caps, "DLL capabilities")
	f.String("exe-caps", "", "EXE capabilities (default: the DLL capabilities)")
	f.StringP("keydir", "k", d.KeyDir, "Directory holding the signing keys")
	f.String("key", "", "Signing key name, without extension")
	f.String("compiler-flags", "", "Extra compiler flags")
	f.String("compression-type", "", "elftran compression type")
	f.String("build-profile", d.BuildProfile, "Build profile: integration or release")
	f.Bool("include-internal-src", false, "Include the internal sources")
	f.Bool("internal-projects", false, "Build the internal test projects")
	f.BoolP("profile_log", "p", false, "Enable interpreter profiling logs")
	f.Bool("debug-device", false, "Build device binaries with debug information")
	f.Bool("skip-pycompile", false, "Leave library .py files uncompiled")
}

func configureOptions(f *pflag.FlagSet) config.ConfigureOptions {
	var o config.ConfigureOptions
	o.SDK, _ = f.GetString("sdk")
	o.Version, _ = f.GetString("version")
	o.VersionTag, _ = f.GetString("version-tag")
	o.Caps, _ = f.GetString("caps")
	o.ExeCaps, _ = f.GetString("exe-caps")
	o.KeyDir, _ = f.GetString("keydir")
	o.Key, _ = f.GetString("key")
	o.CompilerFlags, _ = f.GetString("compiler-flags")
	o.CompressionType, _ = f.GetString("compression-type")
	o.BuildProfile, _ = f.GetString("build-profile")
	o.IncludeInternalSrc, _ = f.GetBool("include-internal-src")
	o.InternalProjects, _ = f.GetBool("internal-projects")
	o.ProfileLog, _ = f.GetBool("profile_log")
	o.DebugDevice, _ = f.GetBool("debug-device")
	o.SkipPyCompile, _ = f.GetBool("skip-pycompile")
	return o
}

func signedSuffix(s *config.Snapshot) string {
	if s.Signed() {
		return ", signed"
	}
	return ""
}

func init() {
	addConfigureFlags(configureCmd.Flags())
	addConfigureFlags(obbCmd.Flags())

	buildCmd.Flags().Bool("emu", false, "Build for the emulator")
	buildCmd.Flags().Bool("device", false, "Build for the device")
	buildCmd.Flags().String("subsystem", "", "Build only this group directory or ext module")

	testCmd.Flags().Int("testset-size", 0, "Number of tests per emulator session")
	testCmd.Flags().String("sdk-version", "", "Suffix of the collected regression log")
	testCmd.Flags().Bool("use-testsets-cfg", false, "Run the sets listed in testsets.cfg")

	bdistSDKCmd.Flags().Bool("create-temp-sdk-zip", false, "Include the device .pyd files for the temporary SDK zip")

	bdistSISCmd.Flags().StringP("keydir", "k", "../keys", "Directory holding the signing keys")
	bdistSISCmd.Flags().String("key", "", "Signing key name, without extension")

	setcapsCmd.Flags().StringP("caps", "c", config.DefaultCaps, "DLL capabilities")
	setcapsCmd.Flags().String("exe-caps", "", "EXE capabilities (default: the DLL capabilities)")

	generateDocsCmd.Flags().String("work-area", "build", "Work area receiving the documentation")
	coverageCmd.Flags().String("work-area", "build", "Work area receiving the coverage report")
}

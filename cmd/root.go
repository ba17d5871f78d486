package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"

	"github.com/ibm-s390-linux/genprotimg/api"
)

// version is set by main() from a build-time ldflags injection; it
// defaults to "dev" for plain `go build`/`go run` invocations.
var version = "dev"

var (
	verbosity int
	logLevel  slog.LevelVar
	tmpDir    string
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:     "genprotimg",
	Version: version,
	Short:   "Build an IBM Z Protected Virtualization (Secure Execution) boot image",
	Long: `genprotimg assembles a bootable, integrity-protected and
	partially-encrypted disk image for IBM Z "Protected Virtualization"
	guests, given a kernel, optional ramdisk and command line, and one or
	more host certificates.
`,
}

// SetVersion overrides the version string reported by -v/--version. Call
// it before Execute; main() uses it to thread through a build-time
// ldflags value instead of hardcoding "dev".
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main(); it only needs to happen once. It returns the
// process exit status the caller should use, classified through
// api.ExitStatusFor.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return api.ExitStatusFor(err)
	}
	return api.ExitOK
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "V", "increase verbosity (repeatable)")
	rootCmd.PersistentFlags().StringVar(&tmpDir, "tmp-dir", "", "parent directory for the build scratch directory (default: system temp dir)")
	rootCmd.SetVersionTemplate("genprotimg {{.Version}}\n")

	cobra.OnInitialize(func() {
		switch {
		case verbosity >= 2:
			logLevel.Set(slog.LevelDebug)
		case verbosity == 1:
			logLevel.Set(slog.LevelInfo)
		default:
			logLevel.Set(slog.LevelWarn)
		}
	})
}

// bindEnv lets every persistent/local flag on cmd also be set via a
// GENPROTIMG_* environment variable, the way the teacher's
// rootCmdLoadConfig leans on viper for --db/--db-pass.
func bindEnv(cmd *cobra.Command) error {
	viper.SetEnvPrefix("genprotimg")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	// Copy environment values into flags not given on the command line, so
	// the package variables the commands read see them.
	var setErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if setErr == nil && !f.Changed && viper.IsSet(f.Name) {
			setErr = f.Value.Set(viper.GetString(f.Name))
		}
	})
	return setErr
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errReported marks a failure whose details were already written by the command.
var errReported = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:   "patchloop",
	Short: "Unattended plan, patch and verify loop for a code repository",
	Long: `Patchloop asks a language model to plan a goal as ordered milestones, then
for each milestone requests unified diffs, applies them to the working tree and
runs verification commands, retrying within a global attempt budget.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version reported by --version and by trace resources.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/patchloop/config.yaml)")
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()
	bindFlags()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/patchloop")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PATCHLOOP")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PATCHLOOP_LOOP_MAX_ITERATIONS for loop.max_iterations
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// bindFlags maps command-line flags onto their config keys. Bindings are made
// on every initialization so they survive viper.Reset.
func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	for key, flag := range runFlagKeys {
		_ = viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
}

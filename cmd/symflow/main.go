// Command symflow manages the on-disk state shared by instrumentation
// pass invocations: the id counters and the append-only branch and CFG
// files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/symflow/symflow/instrument"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "symflow",
	Short: "Concolic instrumentation front end for C programs",
	Long: `Symflow maintains the cross-unit state that the concolic
instrumentation pass for C translation units depends on: persistent id
counters and the append-only branches, cfg, and cfg_func_map files.

The build system must clean this state once before the first translation
unit and serialize pass invocations that share a state directory.`,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clean counters and append-only outputs before the first translation unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return instrument.CleanOutputs(stateDir())
	},
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print the persistent id counters",
	Run: func(cmd *cobra.Command, args []string) {
		dir := stateDir()
		for _, name := range []string{"idcount", "stmtcount", "funcount"} {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				fmt.Printf("%s 0\n", name)
				continue
			}
			fmt.Printf("%s %s", name, data)
		}
	},
}

var stitchCmd = &cobra.Command{
	Use:   "stitch",
	Short: "Resolve cross-unit call edges in the cfg file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return instrument.StitchCFG(stateDir(), newLogger())
	},
}

func stateDir() string {
	return viper.GetString("dir")
}

// newLogger returns the pass logger writing to standard error.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .symflow.yaml)")
	rootCmd.PersistentFlags().String("dir", ".", "directory holding counters and output files")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(resetCmd, countersCmd, stitchCmd)
}

// initConfig reads in config file and environment variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".symflow")
	}

	viper.SetEnvPrefix("symflow")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

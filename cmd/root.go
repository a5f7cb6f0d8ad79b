// msln [path], msln build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/msln-build/msln/internal/builder"
	"github.com/msln-build/msln/internal/msg"
	"github.com/spf13/cobra"
)

var flagConfig EnumValue = NewEnumValue("debug", map[string]string{
	"debug":   "Unoptimized build with full debug info",
	"release": "Optimized build with whole program optimization",
})

func runTarget(target string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		// an unset flag defers to the configuration named in Msln.toml
		variant := ""
		if cmd.Flags().Changed("config") {
			variant = flagConfig.Value()
		}
		sln, err := builder.LoadSolution(dir, variant, builder.NewShellExecutor())
		if err != nil {
			msg.Fatal("%v", err)
		}
		if err := sln.Build(target); err != nil {
			msg.Fatal("%v", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "msln [target path]",
	Short: "A modular solution builder for MSVC",
	Long:  `A modular solution builder for MSVC`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runTarget("build"),
}

var buildCmd = &cobra.Command{
	Use:   "build [target path]",
	Short: "Build every stale unit in the solution",
	Long:  `Build every stale unit in the solution. If no target path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runTarget("build"),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [target path]",
	Short: "Clean the solution, then build it from scratch",
	Args:  cobra.MaximumNArgs(1),
	Run:   runTarget("rebuild"),
}

var cleanCmd = &cobra.Command{
	Use:   "clean [target path]",
	Short: "Remove every build artifact of the solution",
	Args:  cobra.MaximumNArgs(1),
	Run:   runTarget("clean"),
}

var testCmd = &cobra.Command{
	Use:   "test [target path]",
	Short: "Build the solution, then compile and run its tests",
	Args:  cobra.MaximumNArgs(1),
	Run:   runTarget("test"),
}

func init() {
	addConfigFlag(rootCmd)
	for _, cmd := range []*cobra.Command{buildCmd, rebuildCmd, cleanCmd, testCmd} {
		rootCmd.AddCommand(cmd)
		addConfigFlag(cmd)
	}
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().VarP(&flagConfig, "config", "c", "Build configuration, one of "+flagConfig.HelpString())
	cmd.RegisterFlagCompletionFunc("config", flagConfig.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"sigmaker/internal/sigmaker/log"
)

var cpuProfile *os.File

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $XDG_CONFIG_HOME/sigmaker/config.yaml)")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.PersistentFlags().String("memprofile", "", "Write memory profile to file")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

var rootCmd = &cobra.Command{
	Use:   "sigmaker",
	Short: "Create unique byte signatures for code in a binary",
	Long: `Sigmaker builds the shortest byte pattern that identifies an address in an
executable. Bytes encoding addresses, immediates and branch targets are
replaced by wildcards so the signature survives rebuilds and relocation.`,
	Example: `
# Create a signature for a function by name
sigmaker make ./game.so Game::Update

# Create a signature for an address in a flat dump
sigmaker make --base 0x400000 --arch x86-64 dump.bin 0x401a30

# Find every match of a signature in a directory of binaries
sigmaker find "48 8B 05 ?? ?? ?? ?? C3" ./builds
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ResolveCwd(cmd); err != nil {
			return err
		}

		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			os.Setenv("SIGMAKER_LOG_LEVEL", "debug")
		}
		log.Setup(debug)

		// Setup CPU profiling if requested
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			cpuProfile = f
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cpuProfile != nil {
			pprof.StopCPUProfile()
			cpuProfile.Close()
			cpuProfile = nil
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			f, err := os.Create(memprofile)
			if err != nil {
				return fmt.Errorf("could not create memory profile: %v", err)
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				return fmt.Errorf("could not write memory profile: %v", err)
			}
		}
		return nil
	},
}

func Execute() {
	// Bypass fang when output is being piped so nothing but the signature
	// reaches stdout.
	if !term.IsTerminal(os.Stdout.Fd()) {
		os.Setenv("SIGMAKER_NO_COLOR", "1")
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}

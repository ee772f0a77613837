// Package cmd implements the machscope command line.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"machscope/internal/config"
	"machscope/internal/logging"
	mlog "machscope/internal/machscope/log"
	"machscope/internal/ui/colorize"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfg    config.Config
	logger *logging.LoggerCloser
}

func (a *app) log() *log.Logger {
	if a.logger == nil {
		return log.New(io.Discard)
	}
	return a.logger.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:   "machscope",
		Short: "Static analysis and patching for ARM64 Mach-O binaries",
		Long: `machscope resolves cross-references, builds per-function control-flow
graphs and applies verified byte patches to ARM64 Mach-O binaries.
Text listings can be analysed too when paired with a symbols file.`,
		Example: `
# Cross-references of one function
machscope xrefs /path/to/binary --function _main

# Control-flow graph as Graphviz DOT
machscope cfg /path/to/binary _main --dot | dot -Tsvg > main.svg

# Apply a patch set to a copy of the binary
machscope patch apply /path/to/binary fixes.yaml
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().StringP("config", "c", "", "TOML configuration file")
	root.PersistentFlags().Bool("no-color", false, "Disable coloured output")

	root.AddCommand(
		newXrefsCmd(a),
		newCFGCmd(a),
		newDisasmCmd(a),
		newPatchCmd(a),
		newSchemaCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		cfg.NoColor = true
	}
	debug, _ := cmd.Flags().GetBool("debug")
	debug = debug || logging.IsDebug()
	if debug {
		cfg.LogLevel = "debug"
	}
	a.cfg = cfg

	if cfg.NoColor {
		colorize.SetEnabled(false)
	}
	logFile := logging.LogFilePath(time.Now())
	mlog.Setup(logFile, debug)

	a.logger = logging.NewLogger(logFile, cmd.ErrOrStderr())
	a.logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	a.logger.Debug("configuration loaded", "config", path, "level", cfg.LogLevel, "log_file", logFile)
	return nil
}

func Execute() {
	rootCmd := NewRootCmd()

	// fang's styled help and errors only make sense on a terminal
	if !term.IsTerminal(os.Stdout.Fd()) {
		colorize.SetEnabled(false)
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
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}

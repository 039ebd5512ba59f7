// glbclean strips cameras and punctual lights from glTF scenes, prunes the
// nodes left empty and drops every resource nothing reaches anymore.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/glbclean/internal/config"
	"github.com/Faultbox/glbclean/internal/logger"
)

// errFailures marks a run that completed with failed files. The summary has
// already been printed, so main only sets the exit code.
var errFailures = errors.New("some files failed")

// app is the state shared by every subcommand once the root has run.
type app struct {
	cfg *config.Config
	out io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "glbclean",
		Short: "Clean glTF/GLB scenes of cameras, lights and unused data",
		Long: `glbclean removes cameras and KHR_lights_punctual lights from glTF scenes,
prunes nodes left without content and drops every resource (meshes,
materials, textures, images, accessors, buffers...) that is no longer used.
Cleaned files are optionally compressed with gltfpack.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile, cfg.Logging.Format); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			logger.Debug("config loaded", zap.Any("config", cfg))
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newCleanCmd(a),
		newInfoCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	logger.Sync()

	if err != nil {
		if !errors.Is(err, errFailures) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/glbclean/internal/batch"
	"github.com/Faultbox/glbclean/internal/logger"
	"github.com/Faultbox/glbclean/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch <inputDir> <outputDir>",
		Short: "Clean glTF files under inputDir whenever they change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.batchOptions(args[0], args[1])
			if err != nil {
				return err
			}
			log := logger.Named("watch")
			ctx := cmd.Context()

			if initial {
				res, err := batch.Run(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Initial pass: total=%d ok=%d failed=%d\n", res.Total, res.OK, res.Failed)
			}

			tempRoot, err := os.MkdirTemp(opts.TempDir, "glbclean-watch-")
			if err != nil {
				return fmt.Errorf("creating temp dir: %w", err)
			}
			if !opts.KeepTemp {
				defer os.RemoveAll(tempRoot)
			}

			handler := func(ctx context.Context, path string) {
				rel, err := filepath.Rel(opts.InputDir, path)
				if err != nil || insideDir(path, opts.OutputDir) {
					return
				}
				batch.ProcessFile(ctx, opts, tempRoot, filepath.ToSlash(rel))
			}
			w, err := watch.New(opts.InputDir, a.cfg.Watch.Debounce, handler,
				watch.WithLogger(log),
				watch.WithFilter(func(p string) bool { return batch.Match(p, opts.Extensions) }),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			log.Info("watching", zap.String("input", opts.InputDir), zap.String("output", opts.OutputDir))
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&initial, "initial", false, "Clean the whole tree once before watching")
	return cmd
}

func insideDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

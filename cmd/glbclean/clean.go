package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Faultbox/glbclean/internal/batch"
	"github.com/Faultbox/glbclean/internal/compress"
	"github.com/Faultbox/glbclean/internal/logger"
)

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <inputDir> <outputDir>",
		Short: "Clean every glTF file under inputDir into outputDir",
		Example: `  glbclean clean ./models ./dist
  glbclean clean --no-compress -j 8 ./models ./dist`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.batchOptions(args[0], args[1])
			if err != nil {
				return err
			}

			res, err := batch.Run(cmd.Context(), opts)
			if res != nil {
				fmt.Fprintf(a.out, "\nDone. total=%d ok=%d failed=%d\n", res.Total, res.OK, res.Failed)
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return errFailures
			}
			return nil
		},
	}
}

// batchOptions builds batch options from the loaded config.
func (a *app) batchOptions(in, out string) (batch.Options, error) {
	inAbs, err := filepath.Abs(in)
	if err != nil {
		return batch.Options{}, err
	}
	outAbs, err := filepath.Abs(out)
	if err != nil {
		return batch.Options{}, err
	}

	cfg := a.cfg
	opts := batch.Options{
		InputDir:   inAbs,
		OutputDir:  outAbs,
		Workers:    cfg.Batch.Workers,
		TempDir:    cfg.Batch.TempDir,
		KeepTemp:   cfg.Batch.KeepTemp,
		Extensions: cfg.Batch.Extensions,
		Binary:     cfg.Batch.Binary,
		Log:        logger.Named("batch"),
	}

	if cfg.Compressor.Enabled {
		c, err := compress.New(cfg.Compressor.Path, cfg.Compressor.Args)
		if err != nil {
			return batch.Options{}, err
		}
		if err := c.Available(); err != nil {
			return batch.Options{}, fmt.Errorf("%w (install it or pass --no-compress)", err)
		}
		opts.Compressor = c
		opts.CompressTimeout = cfg.Compressor.Timeout
	}
	return opts, nil
}

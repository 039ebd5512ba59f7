// Package batch cleans every glTF document under a directory tree.
//
// Each file is decoded, run through the cleaning pipeline and written to a
// temporary tree that mirrors the input layout. The cleaned file is then
// handed to the compressor, or copied as is, into the output tree. Files are
// independent: one failure never stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/glbclean/internal/pipeline"
	"github.com/Faultbox/glbclean/pkg/formats"
)

// DefaultExtensions are the file extensions picked up when none are configured.
var DefaultExtensions = []string{".glb", ".gltf"}

// ErrInputDir is returned when the input root is missing or not a directory.
var ErrInputDir = errors.New("input is not a directory")

// Compressor turns a cleaned file into the final output file.
type Compressor interface {
	Compress(ctx context.Context, in, out string) error
}

// Options configures a batch run.
type Options struct {
	InputDir  string
	OutputDir string

	Workers    int      // documents in flight, at least 1
	TempDir    string   // parent of the intermediate tree, system temp if empty
	KeepTemp   bool     // leave the intermediate tree behind
	Extensions []string // matched case-insensitively, DefaultExtensions if empty
	Binary     bool     // write .gltf inputs as .glb

	// Compressor produces the output file. When nil the cleaned file is copied.
	Compressor      Compressor
	CompressTimeout time.Duration

	Log *zap.Logger
}

func (o *Options) normalize() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// FileError is the failure of one input file.
type FileError struct {
	Path string // relative to the input root
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// FileResult is the outcome of one input file.
type FileResult struct {
	Path     string // relative to the input root
	Output   string // absolute output path, empty on failure
	Report   *pipeline.Report
	Err      error
	Duration time.Duration
}

// Result aggregates a batch run.
type Result struct {
	RunID   string
	TempDir string
	Total   int
	OK      int
	Failed  int
	Files   []FileResult
}

// Err joins the failures of the run, nil when every file succeeded.
func (r *Result) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, &FileError{Path: f.Path, Err: f.Err})
		}
	}
	return errors.Join(errs...)
}

// Run cleans every matching file under opts.InputDir into opts.OutputDir.
// Per-file failures are recorded in the result. The returned error is only
// set when the run itself could not proceed or ctx was cancelled.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts.normalize()

	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInputDir, opts.InputDir)
	}

	files, err := Discover(opts.InputDir, opts.Extensions)
	if err != nil {
		return nil, err
	}
	// Outputs of an earlier run must not be picked up as inputs.
	if rel, err := filepath.Rel(opts.InputDir, opts.OutputDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		prefix := filepath.ToSlash(rel) + "/"
		files = slices.DeleteFunc(files, func(f string) bool { return strings.HasPrefix(f, prefix) })
	}

	runID := uuid.NewString()
	log := opts.Log.With(zap.String("run", runID))
	opts.Log = log

	tempRoot, err := os.MkdirTemp(opts.TempDir, "glbclean-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	if opts.KeepTemp {
		log.Info("keeping intermediate files", zap.String("dir", tempRoot))
	} else {
		defer func() {
			if err := os.RemoveAll(tempRoot); err != nil {
				log.Warn("removing temp dir", zap.String("dir", tempRoot), zap.Error(err))
			}
		}()
	}

	log.Info("batch started",
		zap.String("input", opts.InputDir),
		zap.String("output", opts.OutputDir),
		zap.Int("files", len(files)),
		zap.Int("workers", opts.Workers))

	res := &Result{RunID: runID, TempDir: tempRoot, Files: make([]FileResult, len(files))}

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, rel := range files {
		if ctx.Err() != nil {
			res.Files[i] = FileResult{Path: rel, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			res.Files[i] = ProcessFile(ctx, opts, tempRoot, rel)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range res.Files {
		res.Total++
		if f.Err != nil {
			res.Failed++
		} else {
			res.OK++
		}
	}
	log.Info("batch finished",
		zap.Int("total", res.Total),
		zap.Int("ok", res.OK),
		zap.Int("failed", res.Failed))

	return res, ctx.Err()
}

// Discover lists the files under root whose extension is in exts, as slash
// separated paths relative to root in lexical order.
func Discover(root string, exts []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !Match(path, exts) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}

// Match reports whether path has one of exts, ignoring case.
func Match(path string, exts []string) bool {
	ext := filepath.Ext(path)
	return slices.ContainsFunc(exts, func(e string) bool { return strings.EqualFold(e, ext) })
}

// ProcessFile cleans the file at rel (relative to opts.InputDir). The cleaned
// document goes to the same relative path under tempRoot and the final file
// under opts.OutputDir. The outcome is logged as ✔ or ✖.
func ProcessFile(ctx context.Context, opts Options, tempRoot, rel string) FileResult {
	opts.normalize()
	start := time.Now()
	res := FileResult{Path: rel}
	out, report, err := processFile(ctx, opts, tempRoot, rel)
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		opts.Log.Error("✖ "+rel, zap.Error(err))
		return res
	}

	res.Output = out
	res.Report = report
	opts.Log.Info("✔ "+rel,
		zap.Int("cameras", report.Strip.Cameras),
		zap.Int("lights", report.Strip.Lights),
		zap.Int("nodes_pruned", report.Prune.Removed),
		zap.Int("resources_collected", report.Collect.Total()),
		zap.Duration("took", res.Duration))
	return res
}

func processFile(ctx context.Context, opts Options, tempRoot, rel string) (string, *pipeline.Report, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	in := filepath.Join(opts.InputDir, filepath.FromSlash(rel))
	outRel := filepath.FromSlash(rel)
	if opts.Binary && strings.EqualFold(filepath.Ext(outRel), ".gltf") {
		outRel = strings.TrimSuffix(outRel, filepath.Ext(outRel)) + ".glb"
	}
	tmp := filepath.Join(tempRoot, outRel)
	out := filepath.Join(opts.OutputDir, outRel)

	g, err := formats.ReadGLTF(in)
	if err != nil {
		return "", nil, err
	}
	report, err := pipeline.Clean(g.Doc)
	if err != nil {
		return "", nil, err
	}
	if err := g.WriteFile(tmp); err != nil {
		return "", nil, fmt.Errorf("writing cleaned file: %w", err)
	}

	if opts.Compressor == nil {
		if err := copyFile(tmp, out); err != nil {
			return "", nil, err
		}
		if _, err := g.CopyImages(filepath.Dir(out)); err != nil {
			return "", nil, err
		}
		return out, report, nil
	}

	cctx := ctx
	if opts.CompressTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, opts.CompressTimeout)
		defer cancel()
	}
	if err := opts.Compressor.Compress(cctx, tmp, out); err != nil {
		return "", nil, err
	}
	return out, report, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

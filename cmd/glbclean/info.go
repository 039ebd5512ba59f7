package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Faultbox/glbclean/internal/pipeline"
	"github.com/Faultbox/glbclean/pkg/formats"
	"github.com/Faultbox/glbclean/pkg/math"
	"github.com/Faultbox/glbclean/pkg/scene"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show scene contents and what cleaning would remove",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := formats.ReadGLTF(args[0])
			if err != nil {
				return err
			}

			before := g.Doc.Stats()
			fmt.Fprintf(a.out, "File:    %s\n", args[0])
			printStats(a.out, before)
			printBounds(a.out, g.Bounds())
			if len(g.Doc.Opaque) > 0 {
				fmt.Fprintf(a.out, "Unsupported extensions: %s\n", strings.Join(g.Doc.Opaque, ", "))
			}

			// The document is discarded, so cleaning it in place is a dry run.
			report, err := pipeline.Clean(g.Doc)
			fmt.Fprintln(a.out)
			if err != nil {
				fmt.Fprintf(a.out, "Cleaning would fail: %v\n", err)
				return errFailures
			}
			printReport(a.out, report)
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, "After cleaning:")
			printStats(a.out, g.Doc.Stats())
			return nil
		},
	}
}

func printStats(w io.Writer, st scene.Stats) {
	fmt.Fprintf(w, "Scenes:  %d\n", st.Scenes)
	fmt.Fprintf(w, "Nodes:   %d\n", st.Nodes)
	for _, k := range scene.Kinds() {
		if n := st.Resources[k]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k, n)
		}
	}
}

func printBounds(w io.Writer, b math.Box) {
	if b.IsEmpty() {
		fmt.Fprintln(w, "Bounds:  none")
		return
	}
	size, center := b.Size(), b.Center()
	fmt.Fprintf(w, "Bounds:  min (%.3g, %.3g, %.3g) max (%.3g, %.3g, %.3g)\n",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
	fmt.Fprintf(w, "  %-12s %.3g x %.3g x %.3g\n", "size", size.X, size.Y, size.Z)
	fmt.Fprintf(w, "  %-12s (%.3g, %.3g, %.3g)\n", "center", center.X, center.Y, center.Z)
}

func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintln(w, "Cleaning would remove:")
	fmt.Fprintf(w, "  %-20s %d\n", "camera attachments", r.Strip.Cameras)
	fmt.Fprintf(w, "  %-20s %d\n", "light attachments", r.Strip.Lights)
	fmt.Fprintf(w, "  %-20s %d (%d passes)\n", "empty nodes", r.Prune.Removed, r.Prune.Passes)
	fmt.Fprintf(w, "  %-20s %d\n", "unreachable nodes", r.Collect.OrphanNodes)
	for _, k := range scene.Kinds() {
		if n := r.Collect.Disposed[k]; n > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", k, n)
		}
	}
}

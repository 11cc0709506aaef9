package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	detscore "github.com/jamesainslie/go-detscore"
	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/eval"
	"github.com/jamesainslie/go-detscore/labels"
	"github.com/jamesainslie/go-detscore/store/inmemory"
)

func (a *app) runCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "run [dir...]",
		Short: "Score every image under the data directories",
		Long: "Runs the detector over each image, compares its predictions with the\n" +
			"image's label file and stores one loss per (model, file). Images already\n" +
			"scored for the model are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers > 0 {
				a.cfg.Workers = workers
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			images, err := a.images(args)
			if err != nil {
				return err
			}
			classes, err := a.classes()
			if err != nil {
				return err
			}

			det, err := a.detector(classes)
			if err != nil {
				return err
			}
			defer func() { _ = det.Close() }()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runner, err := a.runner(det, st, classes)
			if err != nil {
				return err
			}
			sum, runErr := runner.Run(cmd.Context(), a.cfg.Model, images)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: scored=%d skipped=%d failed=%d\n",
				sum.RunID, sum.Scored, sum.Skipped, sum.Failed)
			for _, f := range sum.Failures {
				fmt.Fprintf(out, "  FAIL %s: %v\n", f.Image, f.Err)
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "images evaluated at once (overrides config)")
	return cmd
}

func (a *app) rankCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "List the worst-scored images for the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Model == "" {
				return detscore.ErrModelRequired
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			recs, err := st.Rank(cmd.Context(), a.cfg.Model, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-6s %s\n", "Loss", "Truth", "Image")
			for _, r := range recs {
				fmt.Fprintf(out, "%-8.4f %-6t %s\n", r.Loss, r.GroundTruth, filepath.Join(r.BasePath, r.File))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of images to list; 0 lists all")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print a stored score and its predictions in label format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Model == "" {
				return detscore.ErrModelRequired
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			rec, err := st.Get(cmd.Context(), a.cfg.Model, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			preds, err := detect.Decode(rec.Predictions)
			if err != nil {
				return fmt.Errorf("decode predictions: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# model: %s\n", rec.Model)
			fmt.Fprintf(out, "# image: %s\n", filepath.Join(rec.BasePath, rec.File))
			fmt.Fprintf(out, "# loss: %.6f (ground truth: %t)\n", rec.Loss, rec.GroundTruth)
			fmt.Fprintf(out, "# scored: %s\n", rec.Timestamp)

			anns := make([]labels.Annotation, len(preds))
			for i, p := range preds {
				anns[i] = labels.Annotation{Class: p.Class, Box: p.Box}
			}
			return labels.Write(out, anns)
		},
	}
}

func (a *app) sweepCmd() *cobra.Command {
	var minT, maxT, step float64
	cmd := &cobra.Command{
		Use:   "sweep [dir...]",
		Short: "Compare IoU thresholds over labelled images without storing scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			thresholds := eval.SweepThresholds(minT, maxT, step)
			if len(thresholds) == 0 {
				return errors.New("empty threshold range")
			}
			images, err := a.images(args)
			if err != nil {
				return err
			}
			classes, err := a.classes()
			if err != nil {
				return err
			}
			det, err := a.detector(classes)
			if err != nil {
				return err
			}
			defer func() { _ = det.Close() }()

			runner, err := a.runner(det, inmemory.New(), classes)
			if err != nil {
				return err
			}
			samples, failures, err := runner.Samples(cmd.Context(), images)
			if err != nil {
				return err
			}
			results, err := eval.Sweep(samples, thresholds)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Threshold Sweep (%d images, %d failed)\n", len(samples), len(failures))
			fmt.Fprintf(out, "%-8s %-6s %-6s %-6s %-8s %-8s %-8s\n", "Thresh", "TP", "FP", "FN", "Prec", "Rec", "F1")
			for _, r := range results {
				fmt.Fprintf(out, "%-8.3f %-6d %-6d %-6d %-8.3f %-8.3f %-8.3f\n",
					r.Threshold, r.TruePositives, r.FalsePositives, r.FalseNegatives,
					r.Precision, r.Recall, r.F1)
			}
			for _, f := range failures {
				fmt.Fprintf(out, "  FAIL %s: %v\n", f.Image, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minT, "min", 0.3, "lowest IoU threshold")
	cmd.Flags().Float64Var(&maxT, "max", 0.8, "highest IoU threshold (exclusive)")
	cmd.Flags().Float64Var(&step, "step", 0.05, "threshold step")
	return cmd
}

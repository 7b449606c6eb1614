package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vishguard/internal/training"
	"github.com/MrWong99/vishguard/pkg/artifact"
	"github.com/MrWong99/vishguard/pkg/model"
)

// Split file names written next to the artifacts by prepare.
const (
	trainSplitFile      = "train.json"
	validationSplitFile = "validation.json"
)

func newPrepareCmd(g *globalFlags) *cobra.Command {
	var (
		data, out string
		opts      training.PrepareOptions
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Fit vocabulary, labels and scaler on a labelled dataset",
		Long: "prepare reads a JSON or CSV dataset of {text, label} samples, fits the " +
			"preprocessing artifacts and writes them to --out. With --val-split the " +
			"stratified train and validation samples are written next to them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			samples, err := training.LoadDataset(data)
			if err != nil {
				return err
			}
			prep, err := training.Prepare(samples, opts)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			if err := artifact.SaveMetadata(artifact.InDir(out), &prep.Metadata); err != nil {
				return err
			}
			if opts.ValidationSplit > 0 {
				if err := training.WriteJSON(filepath.Join(out, trainSplitFile), prep.Train); err != nil {
					return err
				}
				if err := training.WriteJSON(filepath.Join(out, validationSplitFile), prep.Validation); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote artifacts to %s: %d words, %d labels %v, %d train / %d validation samples\n",
				out, len(prep.Metadata.Vocab), len(prep.Metadata.Labels), prep.Metadata.Labels,
				len(prep.Train), len(prep.Validation))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&data, "data", "", "labelled dataset (.json or .csv)")
	f.StringVar(&out, "out", "artifacts", "output directory for the artifacts")
	f.IntVar(&opts.MaxWords, "max-words", artifact.DefaultMaxWords, "vocabulary size cap")
	f.IntVar(&opts.MaxLen, "max-len", artifact.DefaultMaxLen, "token sequence length")
	f.BoolVar(&opts.Balance, "balance", true, "oversample minority classes")
	f.Float64Var(&opts.ValidationSplit, "val-split", 0.2, "held-out fraction per class, 0 disables the split")
	f.Uint64Var(&opts.Seed, "seed", training.DefaultSeed, "random seed for balancing and splitting")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newInitWeightsCmd() *cobra.Command {
	var (
		dir     string
		dropout float64
		opts    training.WeightsOptions
	)
	cmd := &cobra.Command{
		Use:   "init-weights",
		Short: "Write freshly initialised weights matching prepared artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := artifact.InDir(dir)
			meta, err := artifact.LoadMetadata(paths)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dropout") {
				opts.Dropout = &dropout
			}
			p, err := training.InitWeights(meta, opts)
			if err != nil {
				return err
			}
			if err := model.WriteWeightsFile(paths.Weights, p); err != nil {
				return err
			}
			slog.Info("weights initialised", "path", paths.Weights, "vocab", len(meta.Vocab), "labels", meta.Labels)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", paths.Weights)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "model-dir", "artifacts", "directory holding vocab, labels and scaler")
	f.IntVar(&opts.EmbedDim, "embed-dim", 0, "embedding size (0 keeps the default)")
	f.IntVar(&opts.HiddenDim, "hidden-dim", 0, "recurrent hidden size per direction (0 keeps the default)")
	f.IntVar(&opts.NumLayers, "layers", 0, "recurrent layers (0 keeps the default)")
	f.Float64Var(&dropout, "dropout", model.DefaultDropout, "dropout recorded in the weights")
	f.Uint64Var(&opts.Seed, "seed", training.DefaultSeed, "random seed")
	return cmd
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var (
		mf          modelFlags
		data        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the model on a labelled dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			mf.apply(cfg)

			samples, err := training.LoadDataset(data)
			if err != nil {
				return err
			}
			labels, err := evalLabels(cfg.Model.Paths(), samples)
			if err != nil {
				return err
			}
			p, err := mf.predictor(cfg)
			if err != nil {
				return err
			}
			report, err := training.Evaluate(cmd.Context(), p, samples, labels, concurrency)
			if err != nil {
				return err
			}
			heading.Fprintf(cmd.OutOrStdout(), "%d samples\n", len(samples))
			return report.Format(cmd.OutOrStdout())
		},
	}
	mf.register(cmd, true)
	cmd.Flags().StringVar(&data, "data", "", "labelled dataset (.json or .csv)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel predictions")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// evalLabels returns the model's label list, or the dataset's labels when the
// local metadata cannot be read (remote evaluation).
func evalLabels(paths artifact.Paths, samples []training.Sample) ([]string, error) {
	meta, err := artifact.LoadMetadata(paths)
	if err == nil {
		return meta.Labels, nil
	}
	if !errors.Is(err, artifact.ErrArtifact) {
		return nil, err
	}
	classes, _ := training.EncodeLabels(samples)
	slog.Debug("no local metadata, using dataset labels", "labels", classes, "err", err)
	return classes, nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/vishguard/internal/analysis"
	"github.com/MrWong99/vishguard/internal/config"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/classifier"
)

var (
	heading    = color.New(color.Bold)
	scamColor  = color.New(color.FgRed, color.Bold)
	safeColor  = color.New(color.FgGreen, color.Bold)
	dimColor   = color.New(color.Faint)
	errNoInput = errors.New("no text given")
)

// modelFlags selects the artifact set for the offline commands.
type modelFlags struct {
	dir    string
	remote bool
}

func (m *modelFlags) register(cmd *cobra.Command, allowRemote bool) {
	cmd.Flags().StringVar(&m.dir, "model-dir", "", "directory holding the model artifacts (overrides model.dir)")
	if allowRemote {
		cmd.Flags().BoolVar(&m.remote, "remote", false, "classify with the configured remote classifier instead of the local model")
	}
}

func (m *modelFlags) apply(cfg *config.Config) {
	if m.dir != "" {
		cfg.Model = config.ModelConfig{Dir: m.dir}
	}
}

// predictor returns the remote classifier when requested, otherwise the local
// detector loaded from cfg.
func (m *modelFlags) predictor(cfg *config.Config) (classifier.Predictor, error) {
	if !m.remote {
		return classifier.Load(cfg.Model.Paths())
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	ps, err := buildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		return nil, err
	}
	if ps.Classifier == nil {
		return nil, errors.New("--remote needs providers.classifier in the config")
	}
	return ps.Classifier, nil
}

func newPredictCmd(g *globalFlags) *cobra.Command {
	var (
		mf     modelFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "predict [text]",
		Short: "Classify a text given as argument or on stdin",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			mf.apply(cfg)

			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return errNoInput
			}

			p, err := mf.predictor(cfg)
			if err != nil {
				return err
			}
			pred, err := p.Predict(cmd.Context(), text)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pred)
			}
			printPrediction(cmd.OutOrStdout(), pred)
			return nil
		},
	}
	mf.register(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the prediction as JSON")
	return cmd
}

func newScanCmd(g *globalFlags) *cobra.Command {
	var (
		mf     modelFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Transcribe a recording or read a screenshot, then classify it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			mf.apply(cfg)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := mf.predictor(cfg)
			if err != nil {
				return err
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			ps, err := buildProviders(cfg, reg, observe.DefaultMetrics())
			if err != nil {
				return err
			}
			opts := []analysis.Option{}
			if ps.STT != nil {
				opts = append(opts, analysis.WithTranscriber(ps.STT))
			}
			if ps.OCR != nil {
				opts = append(opts, analysis.WithExtractor(ps.OCR))
			}
			pipeline, err := analysis.New(p, opts...)
			if err != nil {
				return err
			}
			call, err := pipeline.AnalyzeUpload(cmd.Context(), analysis.Upload{
				Name: filepath.Base(args[0]),
				Data: data,
			})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(call)
			}
			printCall(cmd.OutOrStdout(), call)
			return nil
		},
	}
	mf.register(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the call record as JSON")
	return cmd
}

func verdict(scam bool) string {
	if scam {
		return scamColor.Sprint("SCAM")
	}
	return safeColor.Sprint("NORMAL")
}

func printPrediction(w io.Writer, p classifier.Prediction) {
	fmt.Fprintf(w, "%s  %.2f%%  %s\n", verdict(p.Scam()), p.Confidence, dimColor.Sprintf("(label %s)", p.Label))
	if len(p.Keywords) > 0 {
		fmt.Fprintf(w, "keywords: %s\n", strings.Join(p.Keywords, ", "))
	}
}

func printCall(w io.Writer, c history.Call) {
	fmt.Fprintf(w, "%s  %.2f%%  %s\n", verdict(c.Status == history.StatusScam), c.Risk, dimColor.Sprint(c.Filename))
	if len(c.Keywords) > 0 {
		fmt.Fprintf(w, "keywords: %s\n", strings.Join(c.Keywords, ", "))
	}
	heading.Fprintln(w, "transcript:")
	fmt.Fprintln(w, c.Transcript)
}

package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vishguard/pkg/classifier"
)

// ClassMetrics holds the per-class scores of a [Report].
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a classification report with its confusion matrix.
type Report struct {
	Labels   []string       `json:"labels"`
	Classes  []ClassMetrics `json:"classes"`
	Accuracy float64        `json:"accuracy"`
	Macro    ClassMetrics   `json:"macro_avg"`
	Weighted ClassMetrics   `json:"weighted_avg"`

	// Confusion[i][j] counts samples of true class i predicted as class j.
	Confusion [][]int `json:"confusion_matrix"`
}

// NewReport scores predicted class ids against true ones. Both slices hold
// indices into labels and must have the same length.
func NewReport(labels []string, truth, predicted []int) (*Report, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("training: %d true labels but %d predictions", len(truth), len(predicted))
	}
	k := len(labels)
	r := &Report{Labels: labels, Confusion: make([][]int, k), Classes: make([]ClassMetrics, k)}
	for i := range r.Confusion {
		r.Confusion[i] = make([]int, k)
	}
	correct := 0
	for i := range truth {
		t, p := truth[i], predicted[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return nil, fmt.Errorf("training: class id out of range at sample %d", i)
		}
		r.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	n := len(truth)
	if n > 0 {
		r.Accuracy = float64(correct) / float64(n)
	}

	r.Macro.Label, r.Weighted.Label = "macro avg", "weighted avg"
	for c := range k {
		tp := r.Confusion[c][c]
		var predCount, support int
		for j := range k {
			predCount += r.Confusion[j][c]
			support += r.Confusion[c][j]
		}
		m := ClassMetrics{
			Label:     labels[c],
			Precision: ratio(tp, predCount),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[c] = m

		r.Macro.Precision += m.Precision / float64(k)
		r.Macro.Recall += m.Recall / float64(k)
		r.Macro.F1 += m.F1 / float64(k)
		if n > 0 {
			w := float64(support) / float64(n)
			r.Weighted.Precision += m.Precision * w
			r.Weighted.Recall += m.Recall * w
			r.Weighted.F1 += m.F1 * w
		}
	}
	r.Macro.Support, r.Weighted.Support = n, n
	return r, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Format writes the report as an aligned text table followed by the
// confusion matrix.
func (r *Report) Format(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tprecision\trecall\tf1-score\tsupport\t")
	row := func(m ClassMetrics) {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%d\t\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, m := range r.Classes {
		row(m)
	}
	fmt.Fprintln(tw, "\t\t\t\t\t")
	fmt.Fprintf(tw, "accuracy\t\t\t%.4f\t%d\t\n", r.Accuracy, r.Macro.Support)
	row(r.Macro)
	row(r.Weighted)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "confusion matrix (rows: true, columns: predicted)")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(r.Labels, "\t"))
	for i, counts := range r.Confusion {
		cells := make([]string, len(counts))
		for j, c := range counts {
			cells[j] = fmt.Sprint(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", r.Labels[i], strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// Evaluate classifies every sample with p and scores the predictions against
// the sample labels. labels is the class list of the model; samples whose
// label is not in it are rejected. Up to concurrency predictions run at
// once.
func Evaluate(ctx context.Context, p classifier.Predictor, samples []Sample, labels []string, concurrency int) (*Report, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	truth := make([]int, len(samples))
	for i, s := range samples {
		id := labelIndex(labels, s.Label)
		if id < 0 {
			return nil, fmt.Errorf("training: sample %d has label %q, model knows %v", i, s.Label, labels)
		}
		truth[i] = id
	}

	predicted := make([]int, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, s := range samples {
		g.Go(func() error {
			pred, err := p.Predict(gctx, s.Text)
			if err != nil {
				return fmt.Errorf("training: sample %d: %w", i, err)
			}
			id := labelIndex(labels, pred.Label)
			if id < 0 {
				return fmt.Errorf("training: sample %d: predicted unknown label %q", i, pred.Label)
			}
			predicted[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	r, err := NewReport(labels, truth, predicted)
	if err != nil {
		return nil, err
	}
	slog.Info("evaluation finished", "samples", len(samples), "accuracy", r.Accuracy)
	return r, nil
}

// labelIndex finds label in labels, exactly first, then case-insensitively.
func labelIndex(labels []string, label string) int {
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	for i, l := range labels {
		if strings.EqualFold(l, label) {
			return i
		}
	}
	return -1
}

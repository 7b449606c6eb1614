// Package training prepares classifier artifacts from a labelled dataset and
// evaluates a trained classifier against one.
//
// Weight optimisation happens elsewhere. This package owns everything around
// it that must agree bit for bit with inference: deduplication, class
// balancing, label encoding, vocabulary construction, scaler fitting and the
// stratified train/validation split, all reproducible for a fixed seed.
package training

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// DefaultSeed makes balancing and splitting reproducible.
const DefaultSeed = 42

// ErrEmptyDataset is returned when a dataset holds no usable samples.
var ErrEmptyDataset = errors.New("training: dataset is empty")

// Sample is one labelled message.
type Sample struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// UnmarshalJSON accepts the label as a JSON string or number.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text  string          `json:"text"`
		Label json.RawMessage `json:"label"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Text = raw.Text
	label := bytes.TrimSpace(raw.Label)
	switch {
	case len(label) == 0 || string(label) == "null":
		s.Label = ""
	case label[0] == '"':
		if err := json.Unmarshal(label, &s.Label); err != nil {
			return err
		}
	default:
		s.Label = string(label)
	}
	return nil
}

// LoadDataset reads samples from a JSON array of {"text","label"} objects or
// from a CSV file with "text" and "label" header columns. The format is
// chosen by file extension.
func LoadDataset(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	defer f.Close()

	var samples []Sample
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		samples, err = ReadCSV(f)
	default:
		samples, err = ReadJSON(f)
	}
	if err != nil {
		return nil, fmt.Errorf("training: %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, path)
	}
	return samples, nil
}

// ReadJSON decodes a JSON array of samples. Samples without text or label
// are dropped.
func ReadJSON(r io.Reader) ([]Sample, error) {
	var all []Sample
	if err := json.NewDecoder(r).Decode(&all); err != nil {
		return nil, err
	}
	return usable(all), nil
}

// ReadCSV decodes samples from CSV with a header row. The "text" and "label"
// columns are located by name, case-insensitively.
func ReadCSV(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	textCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "text":
			textCol = i
		case "label":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, errors.New(`header must contain "text" and "label" columns`)
	}

	var all []Sample
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if textCol >= len(rec) || labelCol >= len(rec) {
			continue
		}
		all = append(all, Sample{Text: rec[textCol], Label: strings.TrimSpace(rec[labelCol])})
	}
	return usable(all), nil
}

func usable(samples []Sample) []Sample {
	return slices.DeleteFunc(samples, func(s Sample) bool {
		return strings.TrimSpace(s.Text) == "" || s.Label == ""
	})
}

// Dedupe drops samples whose text was already seen, keeping the first.
func Dedupe(samples []Sample) []Sample {
	seen := make(map[string]bool, len(samples))
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if seen[s.Text] {
			continue
		}
		seen[s.Text] = true
		out = append(out, s)
	}
	return out
}

// Distribution counts samples per label.
func Distribution(samples []Sample) map[string]int {
	d := make(map[string]int)
	for _, s := range samples {
		d[s.Label]++
	}
	return d
}

// Balance oversamples every minority class with replacement until it has as
// many samples as the largest class, then shuffles the result. Classes that
// already have the maximum count are kept as they are.
func Balance(samples []Sample, seed uint64) []Sample {
	rng := newRand(seed)
	byLabel := make(map[string][]Sample)
	var order []string
	for _, s := range samples {
		if _, ok := byLabel[s.Label]; !ok {
			order = append(order, s.Label)
		}
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}
	maxCount := 0
	for _, group := range byLabel {
		maxCount = max(maxCount, len(group))
	}

	out := make([]Sample, 0, maxCount*len(order))
	for _, label := range order {
		group := byLabel[label]
		if len(group) == maxCount {
			out = append(out, group...)
			continue
		}
		for range maxCount {
			out = append(out, group[rng.IntN(len(group))])
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// EncodeLabels returns the sorted class names and each sample's class id.
// When every label is numeric the classes sort numerically ("2" before
// "10"), otherwise lexicographically.
func EncodeLabels(samples []Sample) (classes []string, ids []int) {
	seen := make(map[string]bool)
	for _, s := range samples {
		if !seen[s.Label] {
			seen[s.Label] = true
			classes = append(classes, s.Label)
		}
	}
	SortLabels(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	ids = make([]int, len(samples))
	for i, s := range samples {
		ids[i] = index[s.Label]
	}
	return classes, ids
}

// SortLabels sorts labels in place, numerically when all are numbers.
func SortLabels(labels []string) {
	nums := make(map[string]float64, len(labels))
	for _, l := range labels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil || math.IsNaN(v) {
			slices.Sort(labels)
			return
		}
		nums[l] = v
	}
	slices.SortFunc(labels, func(a, b string) int {
		if c := cmp.Compare(nums[a], nums[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}

// StratifiedSplit partitions sample indices into train and validation sets,
// holding out valFraction of every class. A class with at least two samples
// contributes at least one validation sample and keeps at least one training
// sample. Both index lists are sorted.
func StratifiedSplit(ids []int, valFraction float64, seed uint64) (train, val []int, err error) {
	if valFraction <= 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("training: validation fraction must be in (0, 1), got %g", valFraction)
	}
	rng := newRand(seed)
	byClass := make(map[int][]int)
	var classes []int
	for i, c := range ids {
		if _, ok := byClass[c]; !ok {
			classes = append(classes, c)
		}
		byClass[c] = append(byClass[c], i)
	}
	slices.Sort(classes)

	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(valFraction * float64(len(idx))))
		if len(idx) >= 2 {
			n = min(max(n, 1), len(idx)-1)
		} else {
			n = 0
		}
		val = append(val, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	slices.Sort(train)
	slices.Sort(val)
	return train, val, nil
}

// Select returns the samples at the given indices.
func Select(samples []Sample, indices []int) []Sample {
	out := make([]Sample, len(indices))
	for i, idx := range indices {
		out[i] = samples[idx]
	}
	return out
}

// WriteJSON writes samples as an indented JSON array.
func WriteJSON(path string, samples []Sample) error {
	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("training: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	return nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

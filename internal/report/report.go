// Package report writes analyst-facing summaries of analysed calls.
//
// The template summary mirrors the verdict and its keyword triggers. When an
// LLM provider is configured the summary is written by the model instead,
// and the template remains the fallback whenever the model is unavailable.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// Summary sources.
const (
	SourceTemplate = "template"
	SourceLLM      = "llm"
)

const (
	defaultMaxTokens   = 200
	defaultTemperature = 0.2
	maxTranscriptRunes = 4000
)

const summarySystemPrompt = "You are a fraud analyst reviewing phone call transcripts for voice phishing. " +
	"Write at most three sentences: the likely scheme, the pressure tactics used, and the recommended action. " +
	"Do not repeat the transcript."

// Summary is the result of [Summarizer.Summarize].
type Summary struct {
	Text       string     `json:"summary"`
	Source     string     `json:"source"`
	NearMisses []NearMiss `json:"near_misses,omitempty"`
}

// Option configures a [Summarizer].
type Option func(*Summarizer)

// WithLLM makes the summarizer ask p for the summary text.
func WithLLM(p llm.Provider) Option {
	return func(s *Summarizer) { s.llm = p }
}

// WithMaxTokens caps the LLM reply length.
func WithMaxTokens(n int) Option {
	return func(s *Summarizer) { s.maxTokens = n }
}

// WithNearMisses attaches phonetic keyword hints to every summary.
func WithNearMisses(f *NearMissFinder) Option {
	return func(s *Summarizer) { s.nearMisses = f }
}

// Summarizer produces call summaries. It is safe for concurrent use.
type Summarizer struct {
	llm        llm.Provider
	maxTokens  int
	nearMisses *NearMissFinder
}

// NewSummarizer creates a Summarizer. Without options it produces template
// summaries only.
func NewSummarizer(opts ...Option) *Summarizer {
	s := &Summarizer{maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize describes c. It only fails when ctx is done; LLM errors degrade
// to the template summary.
func (s *Summarizer) Summarize(ctx context.Context, c history.Call) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	out := Summary{Text: TemplateSummary(c), Source: SourceTemplate}
	if s.nearMisses != nil {
		out.NearMisses = s.nearMisses.Find(textproc.Normalize(c.Transcript))
	}
	if s.llm == nil {
		return out, nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: summaryPrompt(c)}},
		Temperature:  defaultTemperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		slog.Warn("llm summary failed, using template", "call_id", c.ID, "err", err)
		return out, nil
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("llm summary empty, using template", "call_id", c.ID)
		return out, nil
	}
	out.Text = strings.TrimSpace(resp.Content)
	out.Source = SourceLLM
	return out, nil
}

// TemplateSummary returns the fixed-format summary for c.
func TemplateSummary(c history.Call) string {
	if !flagged(c) {
		return "✅ **Safety Check**: Conversation appears **SAFE**. No malicious patterns detected."
	}
	triggers := "none"
	if len(c.Keywords) > 0 {
		triggers = strings.Join(c.Keywords, ", ")
	}
	return fmt.Sprintf("🚨 **Security Analysis**: Flagged as **SCAM**. Key triggers: %s. High risk detected.", triggers)
}

// flagged reports whether c was classified as a scam. Resolved calls keep
// their original verdict.
func flagged(c history.Call) bool {
	if c.Status == history.StatusScam {
		return true
	}
	return c.Status == history.StatusResolved && classifier.IsScam(c.Label)
}

func summaryPrompt(c history.Call) string {
	transcript := []rune(c.Transcript)
	if len(transcript) > maxTranscriptRunes {
		transcript = transcript[:maxTranscriptRunes]
	}
	verdict := "safe"
	if flagged(c) {
		verdict = "scam"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Classifier verdict: %s (%.2f%% confidence)\n", verdict, c.Risk)
	if len(c.Keywords) > 0 {
		fmt.Fprintf(&b, "Trigger keywords: %s\n", strings.Join(c.Keywords, ", "))
	}
	fmt.Fprintf(&b, "Transcript:\n%s", string(transcript))
	return b.String()
}

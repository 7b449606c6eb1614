// Package history keeps the record of every analysed call.
//
// A [Call] is created for each analysis (uploaded audio, screenshot, raw text
// or live stream) and can later be listed, fetched, resolved by an analyst
// and summarised. Two [Store] implementations exist: [MemStore] for a single
// process and [PostgresStore] for durable, shared history.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vishguard/pkg/classifier"
)

// ErrNotFound is returned when no call has the requested id.
var ErrNotFound = errors.New("history: call not found")

// TimestampLayout is the wire format of [Call.Timestamp].
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the format of the start and end date filters.
const DateLayout = "2006-01-02"

// Status is the analyst-facing verdict of a call.
type Status string

const (
	StatusScam     Status = "Scam"
	StatusSafe     Status = "Safe"
	StatusResolved Status = "Resolved"
)

// Source names the kind of input a call was analysed from.
type Source string

const (
	SourceAudio  Source = "audio"
	SourceImage  Source = "image"
	SourceText   Source = "text"
	SourceStream Source = "stream"
)

// Call is one analysed conversation.
type Call struct {
	ID         string   `json:"id"`
	Filename   string   `json:"filename"`
	Source     Source   `json:"source"`
	Status     Status   `json:"status"`
	Risk       float64  `json:"risk"`
	Label      string   `json:"label"`
	Transcript string   `json:"transcript"`
	Keywords   []string `json:"keywords"`

	// Timestamp is CreatedAt in local time, formatted with TimestampLayout.
	Timestamp string `json:"timestamp"`

	CreatedAt time.Time `json:"-"`
}

// NewCall builds a record for a finished prediction with a fresh id.
func NewCall(filename string, source Source, p classifier.Prediction, now time.Time) Call {
	status := StatusSafe
	if p.Scam() {
		status = StatusScam
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return Call{
		ID:         uuid.NewString(),
		Filename:   filename,
		Source:     source,
		Status:     status,
		Risk:       p.Confidence,
		Label:      p.Label,
		Transcript: p.Text,
		Keywords:   keywords,
		Timestamp:  now.Local().Format(TimestampLayout),
		CreatedAt:  now,
	}
}

// Filter selects calls for [Store.List]. Zero fields do not filter.
type Filter struct {
	// Status matches case-insensitively.
	Status string

	// StartDate and EndDate bound the call's local calendar date, inclusive.
	StartDate time.Time
	EndDate   time.Time
}

// ParseDate parses a YYYY-MM-DD filter date in local time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Call) bool {
	if f.Status != "" && !strings.EqualFold(string(c.Status), f.Status) {
		return false
	}
	from, until := f.bounds()
	at := c.CreatedAt
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !until.IsZero() && !at.Before(until) {
		return false
	}
	return true
}

// bounds returns the half-open [from, until) instant range selected by the
// date filters: midnight of StartDate and midnight after EndDate.
func (f Filter) bounds() (from, until time.Time) {
	if !f.StartDate.IsZero() {
		y, m, d := f.StartDate.Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	}
	if !f.EndDate.IsZero() {
		y, m, d := f.EndDate.Date()
		until = time.Date(y, m, d+1, 0, 0, 0, 0, time.Local)
	}
	return from, until
}

// Store persists call records.
//
// Implementations must be safe for concurrent use. List returns calls newest
// first and never returns a nil slice.
type Store interface {
	Add(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	List(ctx context.Context, f Filter) ([]Call, error)

	// Resolve marks the call as resolved and returns the updated record.
	Resolve(ctx context.Context, id string) (Call, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close()
}

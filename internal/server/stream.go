package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/classifier"
)

const (
	streamReadLimit = 64 << 10
	streamIdle      = 2 * time.Minute
)

// trailingWindow joins the last n words, or all of them when n <= 0.
func trailingWindow(words []string, n int) string {
	if n > 0 && len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

// streamSegment is one client message on the live feed.
type streamSegment struct {
	// Text is the next transcript fragment.
	Text string `json:"text"`

	// Final ends the call: the server stores it and closes the feed.
	Final bool `json:"final"`
}

// streamUpdate is the verdict over the transcript received so far.
type streamUpdate struct {
	Segments   int      `json:"segments"`
	Label      string   `json:"prediction"`
	Confidence float64  `json:"confidence"`
	Scam       bool     `json:"scam"`
	Keywords   []string `json:"keywords"`
	CallID     string   `json:"call_id,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func updateFor(n int, p classifier.Prediction) streamUpdate {
	kw := p.Keywords
	if kw == nil {
		kw = []string{}
	}
	return streamUpdate{Segments: n, Label: p.Label, Confidence: p.Confidence, Scam: p.Scam(), Keywords: kw}
}

// handleStream scores a live call. The client sends transcript segments as
// {"text": "..."}; after each one the server answers with the verdict over
// the most recent words of the transcript (see [WithStreamWindow]), since
// the tokenizer keeps only the head of a long text. When the client sends
// {"final": true} or closes the connection, the call is recorded in the
// history with the full transcript and the last verdict.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cors.hostPatterns(),
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("stream upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	ctx := r.Context()
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "live call " + time.Now().Format(history.TimestampLayout)
	}
	log := observe.Logger(ctx).With("stream", name)
	log.Info("live feed opened")

	var (
		transcript strings.Builder
		words      []string
		segments   int
		last       classifier.Prediction
	)
	record := func() (history.Call, error) {
		if segments == 0 {
			return history.Call{}, nil
		}
		pred := last
		pred.Text = transcript.String()
		return s.pipeline.Record(context.WithoutCancel(ctx), name, history.SourceStream, pred)
	}

	for {
		var seg streamSegment
		readCtx, cancel := context.WithTimeout(ctx, streamIdle)
		err := wsjson.Read(readCtx, conn, &seg)
		cancel()
		if err != nil {
			if _, rerr := record(); rerr != nil {
				log.Error("record live call failed", "err", rerr)
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info("live feed closed by client", "segments", segments)
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				conn.Close(websocket.StatusPolicyViolation, "idle timeout")
				return
			}
			log.Debug("live feed ended", "err", err)
			return
		}

		if text := strings.TrimSpace(seg.Text); text != "" {
			if transcript.Len() > 0 {
				transcript.WriteByte(' ')
			}
			transcript.WriteString(text)
			words = append(words, strings.Fields(text)...)
			segments++

			pred, err := s.pipeline.Classify(ctx, trailingWindow(words, s.streamWindow))
			if err != nil {
				log.Error("live prediction failed", "err", err)
				_ = wsjson.Write(ctx, conn, streamUpdate{Segments: segments, Error: "Analysis failed: " + err.Error()})
				conn.Close(websocket.StatusInternalError, "prediction failed")
				return
			}
			last = pred
			if !seg.Final {
				if err := wsjson.Write(ctx, conn, updateFor(segments, pred)); err != nil {
					log.Debug("live feed write failed", "err", err)
					return
				}
			}
		}

		if seg.Final {
			call, err := record()
			if err != nil {
				log.Error("record live call failed", "err", err)
				conn.Close(websocket.StatusInternalError, "record failed")
				return
			}
			final := updateFor(segments, last)
			final.CallID = call.ID
			_ = wsjson.Write(ctx, conn, final)
			conn.Close(websocket.StatusNormalClosure, fmt.Sprintf("recorded %d segments", segments))
			return
		}
	}
}

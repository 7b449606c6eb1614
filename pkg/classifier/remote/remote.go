// Package remote provides a classifier.Predictor backed by a hosted model
// exposed through a Gradio-style REST endpoint.
//
// The client posts {"data": [text]} to <base>/run/<api> and accepts the
// response shapes hosted spaces produce in practice:
//
//	{"data": [{"Prediction": "scam", "Confidence": "97.5%"}]}
//	{"data": [{"label": "1", "Confidence": 0.975}]}
//	{"data": ["scam", 97.5]}
//	{"data": ["scam"]}
//
// Usage:
//
//	c, err := remote.New("https://example-space.hf.space", remote.WithAPIName("predict"))
//	pred, err := c.Predict(ctx, "verify your bank account now")
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

const (
	defaultAPIName = "predict"
	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Client implements classifier.Predictor.
var _ classifier.Predictor = (*Client)(nil)

// ErrResponse is returned when the endpoint answers with an unusable payload.
var ErrResponse = errors.New("remote: unexpected response")

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIName sets the endpoint name appended to /run/. Defaults to
// "predict".
func WithAPIName(name string) Option {
	return func(c *Client) {
		c.apiName = strings.Trim(name, "/")
	}
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a remote classifier. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiName    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the endpoint at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote: base URL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiName:    defaultAPIName,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Predict sends text to the remote model and converts its answer into a
// classifier.Prediction. Keywords are matched locally since hosted models
// return only a label and a confidence.
func (c *Client) Predict(ctx context.Context, text string) (classifier.Prediction, error) {
	body, err := json.Marshal(map[string]any{"data": []string{text}})
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run/"+c.apiName, bytes.NewReader(body))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifier.Prediction{}, fmt.Errorf("remote: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope struct {
		Data  []any  `json:"data"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return classifier.Prediction{}, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	if envelope.Error != "" {
		return classifier.Prediction{}, fmt.Errorf("remote: %s", envelope.Error)
	}

	label, confidence, err := parseResult(envelope.Data)
	if err != nil {
		return classifier.Prediction{}, err
	}
	return classifier.Prediction{
		Label:      label,
		Confidence: confidence,
		Text:       text,
		Keywords:   textproc.MatchedKeywords(textproc.Normalize(text)),
	}, nil
}

// parseResult extracts label and confidence from the data array.
func parseResult(data []any) (string, float64, error) {
	if len(data) == 0 {
		return "", 0, fmt.Errorf("%w: empty data", ErrResponse)
	}
	if obj, ok := data[0].(map[string]any); ok {
		label, ok := obj["Prediction"]
		if !ok {
			label = obj["label"]
		}
		if label == nil {
			return "", 0, fmt.Errorf("%w: no Prediction or label field", ErrResponse)
		}
		conf, err := parseConfidence(obj["Confidence"])
		if err != nil {
			return "", 0, err
		}
		return stringify(label), conf, nil
	}

	var conf float64
	if len(data) > 1 {
		var err error
		if conf, err = parseConfidence(data[1]); err != nil {
			return "", 0, err
		}
	}
	return stringify(data[0]), conf, nil
}

// parseConfidence accepts a number or a string such as "97.5%" and returns a
// percentage. Values at or below 1 without a percent sign are treated as
// probabilities.
func parseConfidence(v any) (float64, error) {
	switch c := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if c <= 1 {
			return classifier.RoundConfidence(c), nil
		}
		return c, nil
	case string:
		s := strings.TrimSpace(c)
		if s == "" {
			return 0, nil
		}
		pct := strings.HasSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: confidence %q: %w", ErrResponse, c, err)
		}
		if !pct && f <= 1 {
			return classifier.RoundConfidence(f), nil
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: confidence of type %T", ErrResponse, v)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

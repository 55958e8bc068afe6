// Package remote implements [analyzer.Provider] against the audio-analyzer
// HTTP service.
//
// The service exposes:
//
//	GET  /health                     liveness
//	POST /analyze                    {audio_base64, surah, ayah, qari}
//	GET  /reference/{surah}/{ayah}   ?qari=  reference audio availability
//
// Usage:
//
//	c, err := remote.New("http://localhost:8000", remote.WithTimeout(90*time.Second))
//	if c.Available(ctx) {
//	    a, err := c.Analyze(ctx, analyzer.Request{Audio: wav, Verse: ref, Reciter: types.ReciterHusary})
//	}
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/types"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultHealthTimeout = 5 * time.Second
	maxErrorBody         = 512
)

var (
	_ analyzer.Provider         = (*Client)(nil)
	_ analyzer.ReferenceChecker = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout used for analysis requests.
// Defaults to 60 s; feature extraction on long ayat is slow.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient = &http.Client{Timeout: d}
	}
}

// WithHealthTimeout bounds the Available probe. Defaults to 5 s.
func WithHealthTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.healthTimeout = d
	}
}

// Client talks to one audio-analyzer instance.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
}

// New creates a Client for the service at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("analyzer: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("analyzer: parse baseURL: %w", err)
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: defaultTimeout},
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Available implements analyzer.Provider by probing GET /health.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// analyzeRequest is the wire form of POST /analyze.
type analyzeRequest struct {
	AudioBase64 string `json:"audio_base64"`
	Surah       int    `json:"surah"`
	Ayah        int    `json:"ayah"`
	Qari        string `json:"qari,omitempty"`
}

type feedbackJSON struct {
	WordIndex    int      `json:"word_index"`
	Text         string   `json:"text"`
	StartTime    float64  `json:"start_time"`
	EndTime      float64  `json:"end_time"`
	MakhrajScore float64  `json:"makhraj_score"`
	TimingScore  float64  `json:"timing_score"`
	OverallScore float64  `json:"overall_score"`
	Issues       []string `json:"issues"`
}

// analyzeResponse is the wire form of a successful POST /analyze.
type analyzeResponse struct {
	OverallScore float64        `json:"overall_score"`
	MakhrajScore float64        `json:"makhraj_score"`
	TimingScore  float64        `json:"timing_score"`
	FluencyScore float64        `json:"fluency_score"`
	Segments     []feedbackJSON `json:"segments"`
	Words        []feedbackJSON `json:"words"`
	Summary      string         `json:"summary"`
}

// Analyze implements analyzer.Provider. A 404 from the service maps to
// [analyzer.ErrNoReference].
func (c *Client) Analyze(ctx context.Context, r analyzer.Request) (types.PronunciationAnalysis, error) {
	if len(r.Audio) == 0 {
		return types.PronunciationAnalysis{}, errors.New("analyzer: empty audio")
	}
	body, err := json.Marshal(analyzeRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(r.Audio),
		Surah:       r.Verse.Surah,
		Ayah:        r.Verse.Ayah,
		Qari:        string(r.Reciter),
	})
	if err != nil {
		return types.PronunciationAnalysis{}, fmt.Errorf("analyzer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return types.PronunciationAnalysis{}, fmt.Errorf("analyzer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.PronunciationAnalysis{}, fmt.Errorf("analyzer: http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.PronunciationAnalysis{}, fmt.Errorf("%w: %s", analyzer.ErrNoReference, r.Verse)
	case resp.StatusCode != http.StatusOK:
		return types.PronunciationAnalysis{}, fmt.Errorf("analyzer: server returned HTTP %d: %s", resp.StatusCode, errorDetail(resp.Body))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.PronunciationAnalysis{}, fmt.Errorf("analyzer: parse JSON response: %w", err)
	}
	return out.toAnalysis(), nil
}

// ReferenceAvailable reports whether the service holds a reference recording
// for verse by reciter.
func (c *Client) ReferenceAvailable(ctx context.Context, verse types.VerseReference, reciter types.Reciter) (bool, error) {
	u := c.baseURL + "/reference/" + strconv.Itoa(verse.Surah) + "/" + strconv.Itoa(verse.Ayah)
	if reciter != "" {
		u += "?" + url.Values{"qari": {string(reciter)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("analyzer: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("analyzer: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("analyzer: server returned HTTP %d: %s", resp.StatusCode, errorDetail(resp.Body))
	}
	var out struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("analyzer: parse JSON response: %w", err)
	}
	return out.Available, nil
}

func (r analyzeResponse) toAnalysis() types.PronunciationAnalysis {
	a := types.PronunciationAnalysis{
		OverallScore: r.OverallScore,
		MakhrajScore: r.MakhrajScore,
		TimingScore:  r.TimingScore,
		FluencyScore: r.FluencyScore,
		Segments:     make([]types.SegmentFeedback, 0, len(r.Segments)),
		Words:        make([]types.WordFeedback, 0, len(r.Words)),
		Summary:      r.Summary,
	}
	for _, s := range r.Segments {
		a.Segments = append(a.Segments, types.SegmentFeedback{
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			MakhrajScore: s.MakhrajScore,
			TimingScore:  s.TimingScore,
			OverallScore: s.OverallScore,
			Issues:       nonNil(s.Issues),
		})
	}
	for _, w := range r.Words {
		a.Words = append(a.Words, types.WordFeedback{
			WordIndex:    w.WordIndex,
			Text:         w.Text,
			StartTime:    w.StartTime,
			EndTime:      w.EndTime,
			MakhrajScore: w.MakhrajScore,
			TimingScore:  w.TimingScore,
			OverallScore: w.OverallScore,
			Issues:       nonNil(w.Issues),
		})
	}
	return a
}

// errorDetail extracts the FastAPI "detail" field, falling back to the raw
// (capped) body.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return string(bytes.TrimSpace(raw))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package deepgram provides a Deepgram-backed STT provider. Each call opens a
// streaming WebSocket session, uploads the recitation, asks Deepgram to flush
// with CloseStream and joins the final results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "ar"

	// chunkSize is the number of bytes per binary frame. 8 KiB of 16 kHz
	// linear16 audio is a quarter of a second.
	chunkSize = 8 << 10
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition. Defaults to "ar".
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. WAV input is decoded and streamed as
// raw linear16 PCM; any other container is streamed as is and left to
// Deepgram's format detection.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio) (stt.Transcript, error) {
	if err := a.Validate(); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}

	payload := a.Data
	var pcm *audio.Format
	if audio.IsWAV(a.Data) {
		clip, err := audio.DecodeWAV(a.Data)
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: %w: %w", stt.ErrUnsupportedFormat, err)
		}
		payload, pcm = clip.Data, &clip.Format
	}

	wsURL, err := p.buildURL(pcm)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var results []result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeAudio(gctx, conn, payload) })
	g.Go(func() error {
		var err error
		results, err = readResults(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	return joinResults(results), nil
}

// buildURL constructs the streaming endpoint URL. pcm is non-nil when the
// payload is raw linear16 audio in that format.
func (p *Provider) buildURL(pcm *audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "false")
	q.Set("smart_format", "false")
	if pcm != nil {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(pcm.SampleRate))
		q.Set("channels", strconv.Itoa(pcm.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeAudio streams payload in chunks and then asks Deepgram to flush and
// close the stream.
func writeAudio(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	for len(payload) > 0 {
		n := min(chunkSize, len(payload))
		if err := conn.Write(ctx, websocket.MessageBinary, payload[:n]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
		payload = payload[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// readResults collects final results until Deepgram closes the connection.
func readResults(ctx context.Context, conn *websocket.Conn) ([]result, error) {
	var out []result
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		if e, ok := parseError(msg); ok {
			return nil, fmt.Errorf("deepgram: server error: %s", e)
		}
		if r, ok := parseDeepgramResponse(msg); ok && r.IsFinal {
			out = append(out, r)
		}
	}
}

// ---- wire format ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Start    float64 `json:"start"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	stt.Transcript
	IsFinal bool
	End     time.Duration
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return result{
		Transcript: stt.Transcript{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			Words:      words,
		},
		IsFinal: resp.IsFinal,
		End:     seconds(resp.Start + resp.Duration),
	}, true
}

// parseError extracts the description of an Error message.
func parseError(data []byte) (string, bool) {
	var e struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Type != "Error" {
		return "", false
	}
	return e.Description, true
}

// joinResults concatenates final results into one transcript. Confidence is
// the mean over non-empty results.
func joinResults(results []result) stt.Transcript {
	var (
		out   stt.Transcript
		texts []string
		conf  float64
	)
	for _, r := range results {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
			conf += r.Confidence
		}
		out.Words = append(out.Words, r.Words...)
		out.Duration = max(out.Duration, r.End)
	}
	out.Text = strings.Join(texts, " ")
	if len(texts) > 0 {
		out.Confidence = conf / float64(len(texts))
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-relay/internal/fault"
)

const (
	defaultTranslateEndpoint = "https://translate.google.com/translate_tts"
	translateUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// gtranslateSynth fetches MP3 speech from the Google Translate TTS endpoint.
// The endpoint caps input length, so text is split into parts and the MP3
// streams are concatenated; MP3 frames are self-delimiting so the result
// plays back as one clip.
type gtranslateSynth struct {
	endpoint string
	maxRunes int
	client   *http.Client
}

func NewGTranslateSynth(endpoint string, maxRunes int) Synthesizer {
	if endpoint == "" {
		endpoint = defaultTranslateEndpoint
	}
	if maxRunes <= 0 {
		maxRunes = 100
	}
	return &gtranslateSynth{endpoint: endpoint, maxRunes: maxRunes, client: http.DefaultClient}
}

func (g *gtranslateSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	parts := SplitText(req.Text, g.maxRunes)
	var out []byte
	for i, part := range parts {
		data, err := g.fetch(ctx, part, req.Language, i, len(parts))
		if err != nil {
			return Audio{}, err
		}
		out = append(out, data...)
	}
	return Audio{Data: out, Format: "mp3"}, nil
}

func (g *gtranslateSynth) fetch(ctx context.Context, text, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", translateUserAgent)
	httpReq.Header.Set("Referer", "https://translate.google.com/")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fault.Upstream(fmt.Errorf("translate tts: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &fault.Error{
			Kind: fault.FromHTTPStatus(resp.StatusCode),
			Err:  fmt.Errorf("translate tts returned status %s for part %d/%d", resp.Status, idx+1, total),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Upstream(fmt.Errorf("read translate tts: %w", err))
	}
	if len(data) == 0 {
		return nil, fault.Upstream(fmt.Errorf("translate tts returned no audio for part %d/%d", idx+1, total))
	}
	return data, nil
}

// SplitText breaks text into parts of at most maxRunes runes, cutting on
// whitespace. Words longer than the limit are cut hard.
func SplitText(text string, maxRunes int) []string {
	var parts []string
	var current []rune
	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			parts = append(parts, s)
		}
		current = current[:0]
	}
	for _, word := range strings.FieldsFunc(text, unicode.IsSpace) {
		w := []rune(word)
		for len(w) > maxRunes {
			flush()
			parts = append(parts, string(w[:maxRunes]))
			w = w[maxRunes:]
		}
		if len(w) == 0 {
			continue
		}
		extra := len(w)
		if len(current) > 0 {
			extra++
		}
		if len(current)+extra > maxRunes {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, w...)
	}
	flush()
	return parts
}

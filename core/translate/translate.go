package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"TextTune/config"
	"TextTune/logger"
)

// Translator rewrites Korean prompts into English before expansion. It is a
// best-effort pass: detection misses and any transport or API failure fall
// back to the original prompt so generation is never blocked by translation.
type Translator struct {
	endpoint   string
	apiKey     string
	sourceLang string
	targetLang string
	client     *http.Client
}

func NewTranslator(cfg *config.Config) *Translator {
	return &Translator{
		endpoint:   cfg.TranslateEndpoint,
		apiKey:     cfg.TranslateAPIKey,
		sourceLang: cfg.TranslateSourceLang,
		targetLang: cfg.TranslateTargetLang,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// hangulPattern matches Hangul syllables and jamo.
var hangulPattern = regexp.MustCompile(`[\x{AC00}-\x{D7A3}\x{1100}-\x{11FF}\x{3130}-\x{318F}]`)

// ContainsHangul reports whether the prompt needs translation.
func ContainsHangul(s string) bool {
	return hangulPattern.MatchString(s)
}

// Translate returns the English rendition of prompt, or the trimmed original
// when translation is disabled, unnecessary, or fails for any reason.
func (t *Translator) Translate(ctx context.Context, prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" || t.apiKey == "" || !ContainsHangul(trimmed) {
		return trimmed
	}

	form := url.Values{}
	form.Set("q", trimmed)
	form.Set("source", t.sourceLang)
	form.Set("target", t.targetLang)
	form.Set("format", "text")
	form.Set("key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		logger.Warn("failed to build translate request", logger.ErrorField(err))
		return trimmed
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		logger.Warn("translate request failed, keeping original prompt", logger.ErrorField(err))
		return trimmed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("translate API returned non-200, keeping original prompt",
			logger.Int("status", resp.StatusCode))
		return trimmed
	}

	var body struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Warn("failed to decode translate response, keeping original prompt", logger.ErrorField(err))
		return trimmed
	}
	if len(body.Data.Translations) == 0 {
		return trimmed
	}
	translated := strings.TrimSpace(body.Data.Translations[0].TranslatedText)
	if translated == "" {
		return trimmed
	}
	logger.Debug("prompt translated",
		logger.String("from", t.sourceLang),
		logger.String("to", t.targetLang))
	return translated
}

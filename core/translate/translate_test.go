package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"TextTune/config"

	"github.com/stretchr/testify/assert"
)

func TestContainsHangul(t *testing.T) {
	assert.True(t, ContainsHangul("잔잔한 피아노"))
	assert.True(t, ContainsHangul("lofi 비트 please"))
	assert.False(t, ContainsHangul("calm piano"))
	assert.False(t, ContainsHangul(""))
}

func newTestTranslator(endpoint, apiKey string) *Translator {
	return NewTranslator(&config.Config{
		TranslateEndpoint:   endpoint,
		TranslateAPIKey:     apiKey,
		TranslateSourceLang: "ko",
		TranslateTargetLang: "en",
	})
}

func TestTranslateKoreanPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "잔잔한 피아노", r.Form.Get("q"))
		assert.Equal(t, "ko", r.Form.Get("source"))
		assert.Equal(t, "en", r.Form.Get("target"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"translations":[{"translatedText":"calm piano"}]}}`))
	}))
	defer server.Close()

	tr := newTestTranslator(server.URL, "key")
	assert.Equal(t, "calm piano", tr.Translate(context.Background(), "잔잔한 피아노"))
}

func TestTranslateSkipsNonKorean(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tr := newTestTranslator(server.URL, "key")
	assert.Equal(t, "calm piano", tr.Translate(context.Background(), "  calm piano  "))
	assert.False(t, called)
}

func TestTranslateFailuresFallBackToOriginal(t *testing.T) {
	// 无API key
	tr := newTestTranslator("http://unused.invalid", "")
	assert.Equal(t, "잔잔한 피아노", tr.Translate(context.Background(), " 잔잔한 피아노 "))

	// API返回500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	tr = newTestTranslator(server.URL, "key")
	assert.Equal(t, "잔잔한 피아노", tr.Translate(context.Background(), "잔잔한 피아노"))

	// 响应不是合法JSON
	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer badJSON.Close()
	tr = newTestTranslator(badJSON.URL, "key")
	assert.Equal(t, "잔잔한 피아노", tr.Translate(context.Background(), "잔잔한 피아노"))

	// 空翻译结果
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"translations":[]}}`))
	}))
	defer empty.Close()
	tr = newTestTranslator(empty.URL, "key")
	assert.Equal(t, "잔잔한 피아노", tr.Translate(context.Background(), "잔잔한 피아노"))
}

package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"TextTune/logger"
)

// SpaceBackend renders audio by driving a hosted Gradio Space. The Space's
// declared input/output schema is introspected at call time: prompt, duration,
// sample-rate and seed inputs are located by keyword matching, the first
// audio-typed output is decoded (inline base64 or remote URL).
//
// ZeroGPU 配额耗尽属于可操作的失败，单独分类为 space_quota。
type SpaceBackend struct {
	spaceID string
	rootURL string
	token   string
	client  *http.Client
}

// NewSpaceBackend creates the managed-space backend for "owner/space" ids or
// full URLs.
func NewSpaceBackend(spaceID, token string) *SpaceBackend {
	root := spaceID
	if !strings.Contains(root, "://") {
		host := strings.ToLower(strings.NewReplacer("/", "-", "_", "-", ".", "-").Replace(spaceID))
		root = "https://" + host + ".hf.space"
	}
	return &SpaceBackend{
		spaceID: spaceID,
		rootURL: strings.TrimSuffix(root, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (b *SpaceBackend) Name() string { return "hf-space" }

type spaceComponent struct {
	ID    int                    `json:"id"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props"`
}

type spaceDependency struct {
	ID        int    `json:"id"`
	APIName   string `json:"api_name"`
	BackendFn bool   `json:"backend_fn"`
	Inputs    []int  `json:"inputs"`
	Outputs   []int  `json:"outputs"`
}

type spaceConfig struct {
	Root         string            `json:"root"`
	Components   []spaceComponent  `json:"components"`
	Dependencies []spaceDependency `json:"dependencies"`
}

// Render drives the Space end to end: config, payload, invoke, extract.
func (b *SpaceBackend) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	cfg, err := b.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}

	dep := selectDependency(cfg)
	if dep == nil {
		return nil, &BackendError{Code: CodeRenderError,
			Message: fmt.Sprintf("space %s does not expose a callable backend function", b.spaceID)}
	}

	payload := buildSpacePayload(dep, cfg.Components, req)

	data, err := b.invoke(ctx, dep.APIName, payload)
	if err != nil {
		return nil, err
	}

	audio, err := b.extractAudio(ctx, dep, cfg.Components, data)
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return nil, &BackendError{Code: CodeRenderError,
			Message: fmt.Sprintf("space %s did not return audio data for endpoint %s", b.spaceID, dep.APIName)}
	}

	filePath, err := writeAudioFile(req, audio.extension, audio.data)
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		FilePath:    filePath,
		Format:      audio.extension,
		ContentType: audio.contentType,
		ModelID:     b.spaceID,
	}, nil
}

func (b *SpaceBackend) fetchConfig(ctx context.Context) (*spaceConfig, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.rootURL+"/config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build space config request: %w", err)
	}
	b.authorize(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch space config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Code: CodeRenderError,
			Message: fmt.Sprintf("space config request failed: %d", resp.StatusCode)}
	}

	cfg := &spaceConfig{}
	if err := json.NewDecoder(resp.Body).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode space config: %w", err)
	}
	if cfg.Root == "" {
		cfg.Root = b.rootURL
	}
	return cfg, nil
}

// selectDependency picks the Space function to call: a named backend function
// whose api_name suggests generation, else the first callable one.
func selectDependency(cfg *spaceConfig) *spaceDependency {
	var backendFns []*spaceDependency
	for i := range cfg.Dependencies {
		dep := &cfg.Dependencies[i]
		if dep.BackendFn && len(dep.Inputs) > 0 && len(dep.Outputs) > 0 {
			backendFns = append(backendFns, dep)
		}
	}
	var visible []*spaceDependency
	for _, dep := range backendFns {
		if dep.APIName != "" && dep.APIName != "_check_login_status" {
			visible = append(visible, dep)
		}
	}
	preferred := regexp.MustCompile(`(?i)predict|generate|run|music`)
	for _, dep := range visible {
		if preferred.MatchString(dep.APIName) {
			return dep
		}
	}
	if len(visible) > 0 {
		return visible[0]
	}
	if len(backendFns) > 0 {
		return backendFns[0]
	}
	return nil
}

// textBag collects the searchable text around a component for keyword matching.
func textBag(c *spaceComponent) string {
	parts := []string{c.Type}
	for _, key := range []string{"label", "name", "info", "placeholder"} {
		if s, ok := c.Props[key].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if s, ok := c.Props["value"].(string); ok && s != "" {
		parts = append(parts, s)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func matchesAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// clampToProps clamps a numeric value to the component's minimum/maximum.
func clampToProps(value float64, props map[string]interface{}) float64 {
	if min, ok := props["minimum"].(float64); ok && value < min {
		value = min
	}
	if max, ok := props["maximum"].(float64); ok && value > max {
		value = max
	}
	return value
}

func defaultComponentValue(c *spaceComponent) interface{} {
	if v, ok := c.Props["value"]; ok {
		return v
	}
	switch strings.ToLower(c.Type) {
	case "textbox", "textarea":
		return ""
	case "slider":
		if min, ok := c.Props["minimum"].(float64); ok {
			return min
		}
		return 0.0
	case "checkbox":
		return false
	}
	return nil
}

// buildSpacePayload assigns the request's fields to the dependency's inputs by
// keyword heuristics; unmatched inputs keep their declared defaults.
func buildSpacePayload(dep *spaceDependency, components []spaceComponent, req RenderRequest) []interface{} {
	byID := make(map[int]*spaceComponent, len(components))
	for i := range components {
		byID[components[i].ID] = &components[i]
	}

	var promptSet, durationSet, samplerateSet, seedSet bool
	payload := make([]interface{}, 0, len(dep.Inputs))
	for _, id := range dep.Inputs {
		c := byID[id]
		if c == nil {
			payload = append(payload, nil)
			continue
		}
		bag := textBag(c)
		switch {
		case !promptSet && matchesAny(bag, "prompt", "description", "text", "lyrics"):
			promptSet = true
			payload = append(payload, req.Prompt)
		case !durationSet && matchesAny(bag, "duration", "second", "length", "time", "sec"):
			durationSet = true
			payload = append(payload, clampToProps(req.Duration, c.Props))
		case !samplerateSet && matchesAny(bag, "sample rate", "samplerate", "hz"):
			samplerateSet = true
			payload = append(payload, clampToProps(float64(clampSampleRate(req.SampleRate)), c.Props))
		case !seedSet && matchesAny(bag, "seed"):
			seedSet = true
			if req.Seed != nil {
				payload = append(payload, clampToProps(float64(*req.Seed), c.Props))
			} else {
				payload = append(payload, defaultComponentValue(c))
			}
		default:
			payload = append(payload, defaultComponentValue(c))
		}
	}
	return payload
}

// invoke calls the Space endpoint and waits for its terminal server-sent event.
func (b *SpaceBackend) invoke(ctx context.Context, apiName string, payload []interface{}) ([]interface{}, error) {
	body, err := json.Marshal(map[string]interface{}{"data": payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal space payload: %w", err)
	}

	callURL := fmt.Sprintf("%s/call/%s", b.rootURL, strings.TrimPrefix(apiName, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build space call request: %w", err)
	}
	b.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("space call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifySpaceError(string(detail), resp.StatusCode)
	}

	var started struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil || started.EventID == "" {
		return nil, &BackendError{Code: CodeRenderError, Message: "space call did not return an event id"}
	}

	streamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL+"/"+started.EventID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build space event request: %w", err)
	}
	b.authorize(streamReq)

	streamResp, err := b.client.Do(streamReq)
	if err != nil {
		return nil, fmt.Errorf("space event stream failed: %w", err)
	}
	defer streamResp.Body.Close()

	return readSpaceEvents(streamResp.Body)
}

// readSpaceEvents consumes the SSE stream until a terminal event arrives.
func readSpaceEvents(body io.Reader) ([]interface{}, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				var data []interface{}
				if err := json.Unmarshal([]byte(raw), &data); err != nil {
					return nil, fmt.Errorf("failed to decode space result: %w", err)
				}
				return data, nil
			case "error":
				return nil, classifySpaceError(raw, 0)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read space event stream: %w", err)
	}
	return nil, &BackendError{Code: CodeRenderError, Message: "space event stream ended without a result"}
}

// classifySpaceError maps quota-exhaustion messages onto their own code.
func classifySpaceError(detail string, status int) error {
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "zerogpu") || (strings.Contains(lower, "login") && strings.Contains(lower, "quota")) {
		return &BackendError{
			Code:    CodeSpaceQuota,
			Message: "space GPU quota exhausted; log in to Hugging Face or configure HF_API_TOKEN",
		}
	}
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("space call failed with status %d", status)
	}
	return &BackendError{Code: CodeRenderError, Message: msg}
}

type audioPayload struct {
	data        []byte
	contentType string
	extension   string
}

var dataURIPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// extractAudio walks the audio-typed outputs and decodes the first candidate.
func (b *SpaceBackend) extractAudio(ctx context.Context, dep *spaceDependency, components []spaceComponent, data []interface{}) (*audioPayload, error) {
	byID := make(map[int]*spaceComponent, len(components))
	for i := range components {
		byID[components[i].ID] = &components[i]
	}

	for idx, outputID := range dep.Outputs {
		c := byID[outputID]
		if c == nil || idx >= len(data) {
			continue
		}
		ctype := strings.ToLower(c.Type)
		if !strings.Contains(ctype, "audio") && !strings.Contains(ctype, "file") && !strings.Contains(ctype, "gallery") {
			continue
		}
		audio, err := b.normalizeCandidate(ctx, data[idx])
		if err != nil {
			logger.Warn("failed to decode space output candidate", logger.ErrorField(err))
			continue
		}
		if audio != nil {
			return audio, nil
		}
	}
	return nil, nil
}

// normalizeCandidate decodes one output value: inline data URI, absolute or
// space-relative URL, or a gradio file object with url/path fields.
func (b *SpaceBackend) normalizeCandidate(ctx context.Context, value interface{}) (*audioPayload, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		for _, item := range v {
			audio, err := b.normalizeCandidate(ctx, item)
			if err == nil && audio != nil {
				return audio, nil
			}
		}
		return nil, nil
	case string:
		if m := dataURIPattern.FindStringSubmatch(v); m != nil {
			return decodeDataURI(m[1], m[2])
		}
		return b.fetchRemote(ctx, b.resolveURL(v))
	case map[string]interface{}:
		if s, ok := v["data"].(string); ok {
			if m := dataURIPattern.FindStringSubmatch(s); m != nil {
				return decodeDataURI(m[1], m[2])
			}
		}
		if s, ok := v["url"].(string); ok && s != "" {
			return b.fetchRemote(ctx, b.resolveURL(s))
		}
		if s, ok := v["path"].(string); ok && s != "" {
			return b.fetchRemote(ctx, b.resolveURL("/file="+s))
		}
	}
	return nil, nil
}

func decodeDataURI(contentType, encoded string) (*audioPayload, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inline audio payload: %w", err)
	}
	return &audioPayload{
		data:        data,
		contentType: contentType,
		extension:   extensionFromContentType(contentType),
	}, nil
}

func (b *SpaceBackend) resolveURL(resource string) string {
	if strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://") {
		return resource
	}
	return b.rootURL + "/" + strings.TrimPrefix(resource, "/")
}

func (b *SpaceBackend) fetchRemote(ctx context.Context, url string) (*audioPayload, error) {
	if url == "" {
		return nil, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build audio download request: %w", err)
	}
	b.authorize(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio from space output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download audio from space output: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio from space output: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessMimeFromURL(url)
	}
	return &audioPayload{
		data:        data,
		contentType: contentType,
		extension:   extensionFromContentType(contentType),
	}, nil
}

func guessMimeFromURL(url string) string {
	lowered := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lowered, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(lowered, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(lowered, ".ogg"), strings.HasSuffix(lowered, ".oga"):
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}

func (b *SpaceBackend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceRootURL(t *testing.T) {
	assert.Equal(t, "https://owner-space.hf.space", NewSpaceBackend("owner/space", "").rootURL)
	assert.Equal(t, "https://example.com/space", NewSpaceBackend("https://example.com/space", "").rootURL)
}

func TestSelectDependencyPrefersGenerateEndpoints(t *testing.T) {
	cfg := &spaceConfig{
		Dependencies: []spaceDependency{
			{ID: 0, APIName: "_check_login_status", BackendFn: true, Inputs: []int{1}, Outputs: []int{2}},
			{ID: 1, APIName: "clear", BackendFn: true, Inputs: []int{1}, Outputs: []int{2}},
			{ID: 2, APIName: "generate_music", BackendFn: true, Inputs: []int{1}, Outputs: []int{2}},
			{ID: 3, APIName: "frontend_only", BackendFn: false, Inputs: []int{1}, Outputs: []int{2}},
		},
	}
	dep := selectDependency(cfg)
	require.NotNil(t, dep)
	assert.Equal(t, "generate_music", dep.APIName)
}

func TestSelectDependencyFallsBackToFirstVisible(t *testing.T) {
	cfg := &spaceConfig{
		Dependencies: []spaceDependency{
			{ID: 0, APIName: "reset", BackendFn: true, Inputs: []int{1}, Outputs: []int{2}},
		},
	}
	dep := selectDependency(cfg)
	require.NotNil(t, dep)
	assert.Equal(t, "reset", dep.APIName)
}

func TestBuildSpacePayloadKeywordAssignment(t *testing.T) {
	components := []spaceComponent{
		{ID: 1, Type: "textbox", Props: map[string]interface{}{"label": "Prompt"}},
		{ID: 2, Type: "slider", Props: map[string]interface{}{
			"label": "Duration (seconds)", "minimum": 1.0, "maximum": 20.0,
		}},
		{ID: 3, Type: "number", Props: map[string]interface{}{"label": "Seed"}},
		{ID: 4, Type: "checkbox", Props: map[string]interface{}{"label": "High fidelity", "value": true}},
	}
	dep := &spaceDependency{Inputs: []int{1, 2, 3, 4}}

	seed := int64(7)
	payload := buildSpacePayload(dep, components, RenderRequest{
		Prompt:   "lofi beat",
		Duration: 30, // 超出slider上限，应被钳到20
		Seed:     &seed,
	})

	require.Len(t, payload, 4)
	assert.Equal(t, "lofi beat", payload[0])
	assert.Equal(t, 20.0, payload[1])
	assert.Equal(t, 7.0, payload[2])
	assert.Equal(t, true, payload[3], "unmatched inputs keep their declared default")
}

func TestClassifySpaceError(t *testing.T) {
	err := classifySpaceError("ZeroGPU quota exceeded, please retry later", 0)
	assert.Equal(t, CodeSpaceQuota, ErrorCode(err))

	err = classifySpaceError("You must login to use this space once quota runs out", 0)
	assert.Equal(t, CodeSpaceQuota, ErrorCode(err))

	err = classifySpaceError("internal exception", 0)
	assert.Equal(t, CodeRenderError, ErrorCode(err))
}

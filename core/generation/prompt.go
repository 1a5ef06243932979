package generation

import "strings"

// promptSuffix steers the inference backends toward instrumental output.
const promptSuffix = ", instrumental, clean mix, mastered, no vocals"

// ExpandPrompt enriches the user's raw prompt for the rendering backend.
// Deterministic and total: whitespace is trimmed, the empty prompt stays
// empty, anything else gets the fixed suffix appended exactly once.
func ExpandPrompt(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	return base + promptSuffix
}

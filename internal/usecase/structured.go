package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// structuredFeatures are the features whose provider output must be valid
// JSON. Their answers feed downstream parsers, so malformed output is a
// contract violation, not a transient fault.
var structuredFeatures = map[domain.FeatureType]bool{
	domain.FeatureTaskParsing: true,
	domain.FeatureVisionOCR:   true,
	domain.FeatureMindMap:     true,
}

// ensureStructured validates the provider output for structured features and
// returns the content to store. Markdown code fences are stripped and broken
// JSON is repaired before giving up.
func ensureStructured(feature domain.FeatureType, content string) (string, error) {
	if !structuredFeatures[feature] {
		return content, nil
	}

	trimmed := stripFences(content)
	if isStructured(trimmed) && json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	if !isStructured(trimmed) {
		// Prose where JSON was demanded. Repair would happily quote it into
		// a bare string, which downstream parsers cannot use.
		return "", fmt.Errorf("%w: feature %s: output is not a JSON document", domain.ErrResponseParse, feature)
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: feature %s: %v", domain.ErrResponseParse, feature, err)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("%w: feature %s: repaired output still invalid", domain.ErrResponseParse, feature)
	}
	return repaired, nil
}

// isStructured reports whether s starts like a JSON object or array.
func isStructured(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, from model output.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

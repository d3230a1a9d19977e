// Package respcache implements the fingerprint-keyed response cache with
// per-feature TTLs.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// Fingerprint derives the deterministic cache key for a request from its
// feature type, normalized message and the context fields that influence the
// answer. Requests differing only in priority share a key.
func Fingerprint(req domain.AIRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Feature))
	h.Write([]byte{0})
	h.Write([]byte(normalize(req.Message)))
	for _, m := range req.RecentContext() {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(normalize(m.Content)))
	}
	if len(req.Metadata) > 0 {
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(req.Metadata[k]))
		}
	}
	for _, f := range req.Files {
		h.Write([]byte{0})
		h.Write([]byte(f.MIME))
		fh := sha256.Sum256(f.Data)
		h.Write(fh[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// TTLFor returns the feature-specific cache lifetime.
func TTLFor(f domain.FeatureType) time.Duration {
	switch f {
	case domain.FeatureNoteSummary:
		return 24 * time.Hour
	case domain.FeatureResearch:
		return 2 * time.Hour
	case domain.FeatureQuickChat, domain.FeatureBriefing:
		return time.Hour
	default:
		return time.Hour
	}
}

package catalog

import (
	"strings"

	"andyhost/internal/backend"
	"andyhost/pkg/types"
)

var (
	visionHints    = []string{"llava", "vision", "clip", "moondream"}
	embeddingHints = []string{"embed", "bge", "e5", "sentence"}
	audioHints     = []string{"whisper", "audio", "speech"}
)

// describe builds a descriptor from a backend tag using name hints for capabilities.
func describe(t backend.TagModel, maxConcurrent, contextLength int) types.ModelDescriptor {
	name := strings.ToLower(t.Name)
	quant := t.Details.QuantizationLevel
	if quant == "" {
		quant = "unknown"
	}
	return types.ModelDescriptor{
		Name:              t.Name,
		SupportsVision:    containsAny(name, visionHints),
		SupportsEmbedding: containsAny(name, embeddingHints),
		SupportsAudio:     containsAny(name, audioHints),
		MaxConcurrent:     maxConcurrent,
		ContextLength:     contextLength,
		Quantization:      quant,
		Family:            t.Details.Family,
		Size:              t.Size,
	}
}

// applyUpdate overlays the non-nil settings of u on m.
func applyUpdate(m types.ModelDescriptor, u types.ModelUpdate) types.ModelDescriptor {
	if u.SupportsEmbedding != nil {
		m.SupportsEmbedding = *u.SupportsEmbedding
	}
	if u.SupportsVision != nil {
		m.SupportsVision = *u.SupportsVision
	}
	if u.SupportsAudio != nil {
		m.SupportsAudio = *u.SupportsAudio
	}
	if u.MaxConcurrent != nil {
		m.MaxConcurrent = *u.MaxConcurrent
	}
	if u.ContextLength != nil {
		m.ContextLength = *u.ContextLength
	}
	return m
}

// mergeUpdate keeps earlier overrides that next leaves unset.
func mergeUpdate(prev, next types.ModelUpdate) types.ModelUpdate {
	prev.ModelName = next.ModelName
	if next.SupportsEmbedding != nil {
		prev.SupportsEmbedding = next.SupportsEmbedding
	}
	if next.SupportsVision != nil {
		prev.SupportsVision = next.SupportsVision
	}
	if next.SupportsAudio != nil {
		prev.SupportsAudio = next.SupportsAudio
	}
	if next.MaxConcurrent != nil {
		prev.MaxConcurrent = next.MaxConcurrent
	}
	if next.ContextLength != nil {
		prev.ContextLength = next.ContextLength
	}
	return prev
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// CapabilityTags returns the capability set advertised for a group of models:
// always "text", plus "embedding", "vision" and "audio" when any model has them.
func CapabilityTags(models []types.ModelDescriptor) []string {
	tags := []string{"text"}
	var emb, vis, aud bool
	for _, m := range models {
		emb = emb || m.SupportsEmbedding
		vis = vis || m.SupportsVision
		aud = aud || m.SupportsAudio
	}
	if emb {
		tags = append(tags, "embedding")
	}
	if vis {
		tags = append(tags, "vision")
	}
	if aud {
		tags = append(tags, "audio")
	}
	return tags
}

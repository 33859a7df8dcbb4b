package models

import (
	"fmt"
	"strings"
)

// EditPreset is a canned edit instruction offered as a one-click filter.
type EditPreset struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

var presets = []EditPreset{
	{
		ID:     "oil",
		Name:   "Oil Painting",
		Prompt: "Transform this image into a classic oil painting with visible brush strokes, rich textures and vibrant impressionist colors.",
	},
	{
		ID:     "bw",
		Name:   "Black and White",
		Prompt: "Convert this image to high-end artistic black and white with deep contrast, dramatic shadows and classic film grain.",
	},
	{
		ID:     "vintage",
		Name:   "Vintage",
		Prompt: "Apply a 1970s analog photo look with slightly washed warm tones, worn edges and a nostalgic atmosphere.",
	},
	{
		ID:     "blur",
		Name:   "Artistic Blur",
		Prompt: "Add a deep background blur (bokeh) to isolate the subject, creating a cinematic, professional depth of field.",
	},
}

func Presets() []EditPreset {
	out := make([]EditPreset, len(presets))
	copy(out, presets)
	return out
}

func PresetByID(id string) (EditPreset, error) {
	needle := strings.ToLower(strings.TrimSpace(id))
	for _, p := range presets {
		if p.ID == needle {
			return p, nil
		}
	}
	return EditPreset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, id)
}

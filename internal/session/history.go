package session

import (
	"iter"
	"slices"

	"github.com/manash/timebooth/pkg/models"
)

// History is the append-only record of every image produced in a session.
// Every view is newest first. Entries are stored by value, so nothing handed
// out by History can change what it holds.
type History struct {
	// entries are kept oldest first; views walk them backwards.
	entries []models.GeneratedImage
}

func NewHistory() *History {
	return &History{}
}

// Add records img as the newest entry.
func (h *History) Add(img models.GeneratedImage) {
	h.entries = append(h.entries, img)
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) All() iter.Seq[models.GeneratedImage] {
	return func(yield func(models.GeneratedImage) bool) {
		for i := len(h.entries) - 1; i >= 0; i-- {
			if !yield(h.entries[i]) {
				return
			}
		}
	}
}

// FilterByEra lazily yields the entries for era, keeping their relative order.
func (h *History) FilterByEra(era models.Era) iter.Seq[models.GeneratedImage] {
	return func(yield func(models.GeneratedImage) bool) {
		for img := range h.All() {
			if img.Era == era && !yield(img) {
				return
			}
		}
	}
}

func (h *History) Versions(era models.Era) []models.GeneratedImage {
	return slices.Collect(h.FilterByEra(era))
}

func (h *History) Entries() []models.GeneratedImage {
	out := make([]models.GeneratedImage, 0, len(h.entries))
	return slices.AppendSeq(out, h.All())
}

// Latest returns at most n of the newest entries.
func (h *History) Latest(n int) []models.GeneratedImage {
	out := make([]models.GeneratedImage, 0, min(max(n, 0), len(h.entries)))
	for img := range h.All() {
		if len(out) >= n {
			break
		}
		out = append(out, img)
	}
	return out
}

func (h *History) Get(id string) (models.GeneratedImage, bool) {
	for _, img := range h.entries {
		if img.ID == id {
			return img, true
		}
	}
	return models.GeneratedImage{}, false
}

// Lineage walks from id back to the generation it descends from, newest
// first. It returns nil when id is unknown.
func (h *History) Lineage(id string) []models.GeneratedImage {
	var chain []models.GeneratedImage
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		img, ok := h.Get(id)
		if !ok {
			break
		}
		seen[id] = true
		chain = append(chain, img)
		id = img.ParentID
	}
	return chain
}

func (h *History) Clone() *History {
	return &History{entries: slices.Clone(h.entries)}
}

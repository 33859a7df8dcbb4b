package models

import (
	"fmt"
	"strings"
)

// Era is one of a fixed set of historical (or futuristic) settings. Its value
// is the display label, so it can be shown as-is and used as a selector.
type Era string

const (
	EraAncientEgypt    Era = "Ancient Egypt"
	EraRenaissance     Era = "Renaissance"
	EraVikingAge       Era = "Viking Age"
	EraSamuraiJapan    Era = "Samurai Japan"
	EraRoaring20s      Era = "Roaring 20s"
	EraPirateGoldenAge Era = "Pirate Golden Age"
	EraCyberpunkFuture Era = "Cyberpunk Future"
)

type eraInfo struct {
	slug        string
	description string
}

var eraCatalogue = map[Era]eraInfo{
	EraAncientEgypt:    {"ancient-egypt", "Pharaohs and pyramids"},
	EraRenaissance:     {"renaissance", "Art and humanism"},
	EraVikingAge:       {"viking-age", "Warriors of the North"},
	EraSamuraiJapan:    {"samurai-japan", "Honor and bushido"},
	EraRoaring20s:      {"roaring-20s", "Jazz and glamour"},
	EraPirateGoldenAge: {"pirate-golden-age", "Treasure and open seas"},
	EraCyberpunkFuture: {"cyberpunk-future", "Neon and chrome"},
}

// AllEras returns the catalogue in display order.
func AllEras() []Era {
	return []Era{
		EraAncientEgypt,
		EraRenaissance,
		EraVikingAge,
		EraSamuraiJapan,
		EraRoaring20s,
		EraPirateGoldenAge,
		EraCyberpunkFuture,
	}
}

func (e Era) String() string {
	return string(e)
}

func (e Era) IsValid() bool {
	_, ok := eraCatalogue[e]
	return ok
}

func (e Era) Slug() string {
	return eraCatalogue[e].slug
}

func (e Era) Description() string {
	return eraCatalogue[e].description
}

// ParseEra accepts either the label ("Viking Age") or the slug ("viking-age"),
// ignoring case and surrounding space.
func ParseEra(s string) (Era, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if needle == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownEra)
	}
	for _, era := range AllEras() {
		if strings.ToLower(era.String()) == needle || era.Slug() == needle {
			return era, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEra, s)
}

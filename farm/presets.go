package farm

import (
	"maps"
	"regexp"
	"strings"

	"github.com/nstehr/vimy/vimy-farm/model"
)

// presetTag matches a bracketed or quoted tag such as "[Farm]" or "(A)".
var presetTag = regexp.MustCompile(`(\(|\{|\[|"|')[^)}\]"']+(\)|\}|\]|"|')`)

// CleanPresetName strips tags and surrounding whitespace from a preset name.
func CleanPresetName(name string) string {
	return strings.TrimSpace(presetTag.ReplaceAllString(name, ""))
}

// resolvePresets returns the presets whose cleaned name equals the cleaned
// configured name, with zero-count units dropped.
func resolvePresets(all []model.Preset, name string) []model.Preset {
	want := CleanPresetName(name)
	if want == "" {
		return nil
	}
	var out []model.Preset
	for _, p := range all {
		if CleanPresetName(p.Name) != want {
			continue
		}
		units := maps.Clone(p.Units)
		maps.DeleteFunc(units, func(_ string, n int) bool { return n <= 0 })
		out = append(out, model.Preset{ID: p.ID, Name: p.Name, Units: units})
	}
	return out
}

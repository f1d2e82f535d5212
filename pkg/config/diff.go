package config

import (
	"slices"
	"strings"
)

// Change is a single differing setting between two records.
type Change struct {
	Key string `json:"key"`
	Old string `json:"old"`
	New string `json:"new"`
}

// Diff returns the settings that differ from old to new, in key order,
// followed by a "requires" change when the plugin lists differ.
func Diff(old, new *Project) []Change {
	var changes []Change
	for _, key := range recognizedKeys {
		ov, _ := old.Get(key)
		nv, _ := new.Get(key)
		if ov != nv {
			changes = append(changes, Change{Key: key, Old: ov.String(), New: nv.String()})
		}
	}

	if !slices.Equal(old.Requires, new.Requires) {
		changes = append(changes, Change{
			Key: keyRequires,
			Old: strings.Join(old.Requires, ","),
			New: strings.Join(new.Requires, ","),
		})
	}
	return changes
}

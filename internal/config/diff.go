package config

import (
	"slices"
	"sort"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	OraclesChanged  bool         // true if any oracle was added, removed or edited
	OracleChanges   []OracleDiff // per-oracle diffs, sorted by id
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// OracleDiff describes what changed for a single oracle between two configs.
type OracleDiff struct {
	ID             string
	PersonaChanged bool // name, title or description
	VoiceChanged   bool
	ImageChanged   bool // base image or avatar face
	ListingChanged bool // price, tags or ritual
	Added          bool
	Removed        bool
}

func (d OracleDiff) changed() bool {
	return d.PersonaChanged || d.VoiceChanged || d.ImageChanged || d.ListingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldOracles := make(map[string]*OracleConfig, len(old.Oracles))
	for i := range old.Oracles {
		oldOracles[old.Oracles[i].ID] = &old.Oracles[i]
	}
	newOracles := make(map[string]*OracleConfig, len(new.Oracles))
	for i := range new.Oracles {
		newOracles[new.Oracles[i].ID] = &new.Oracles[i]
	}

	for id, o := range oldOracles {
		n, exists := newOracles[id]
		if !exists {
			d.OracleChanges = append(d.OracleChanges, OracleDiff{ID: id, Removed: true})
			continue
		}
		if od := diffOracle(id, o, n); od.changed() {
			d.OracleChanges = append(d.OracleChanges, od)
		}
	}
	for id := range newOracles {
		if _, exists := oldOracles[id]; !exists {
			d.OracleChanges = append(d.OracleChanges, OracleDiff{ID: id, Added: true})
		}
	}

	sort.Slice(d.OracleChanges, func(i, j int) bool { return d.OracleChanges[i].ID < d.OracleChanges[j].ID })
	d.OraclesChanged = len(d.OracleChanges) > 0
	return d
}

func diffOracle(id string, old, new *OracleConfig) OracleDiff {
	return OracleDiff{
		ID:             id,
		PersonaChanged: old.Name != new.Name || old.Title != new.Title || old.Description != new.Description,
		VoiceChanged:   old.Voice != new.Voice,
		ImageChanged:   old.BaseImage != new.BaseImage || old.SimliFaceID != new.SimliFaceID,
		ListingChanged: old.Price != new.Price || old.Ritual != new.Ritual || !slices.Equal(old.Tags, new.Tags),
	}
}

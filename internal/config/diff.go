package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	OriginsChanged bool
	NewOrigins     []string

	RequireTokenChanged bool
	NewRequireToken     bool

	// RestartRequired names the top-level sections that changed but are only
	// read at start-up (e.g. "providers", "history").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.OriginsChanged && !d.RequireTokenChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.OriginsChanged = true
		d.NewOrigins = slices.Clone(new.Server.AllowedOrigins)
	}
	if old.Auth.RequireToken != new.Auth.RequireToken {
		d.RequireTokenChanged = true
		d.NewRequireToken = new.Auth.RequireToken
	}

	// Compare the start-up-only parts with the hot-reloadable fields masked.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldServer.AllowedOrigins, newServer.AllowedOrigins = nil, nil
	oldAuth, newAuth := old.Auth, new.Auth
	oldAuth.RequireToken, newAuth.RequireToken = false, false

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"model", old.Model, new.Model},
		{"providers", old.Providers, new.Providers},
		{"resilience", old.Resilience, new.Resilience},
		{"history", old.History, new.History},
		{"auth", oldAuth, newAuth},
		{"mcp", old.MCP, new.MCP},
		{"analysis", old.Analysis, new.Analysis},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

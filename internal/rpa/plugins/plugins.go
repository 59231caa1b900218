// Package plugins holds the policy plugins that run around page actions:
// structured logging, retry with a fixed delay, and an open-page cap.
package plugins

import (
	"github.com/xkilldash9x/rpa-browser/internal/config"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
)

// FromConfig returns the factories for every enabled plugin. Log comes
// first so its notices bracket the other plugins' work, then PageLimit so
// pages are reclaimed before an action, then Retry.
func FromConfig(cfg config.PluginsConfig) []hooks.Factory {
	var out []hooks.Factory
	if cfg.Log.Enabled {
		out = append(out, NewLog(cfg.Log.Level))
	}
	if cfg.PageLimit.Enabled {
		out = append(out, NewPageLimit(cfg.PageLimit.MaxPages))
	}
	if cfg.Retry.Enabled {
		out = append(out, NewRetry(cfg.Retry.MaxAttempts, cfg.Retry.Delay))
	}
	return out
}

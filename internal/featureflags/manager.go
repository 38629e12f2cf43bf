// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Known flags.
const (
	// CoverThumbnails renders a webp thumbnail next to every uploaded cover.
	CoverThumbnails = "cover_thumbnails"
	// PublicListingCache serves the public post listing through redis.
	PublicListingCache = "public_listing_cache"
)

// Manager evaluates flags from a comma-separated key=value list such as
// "cover_thumbnails=on,public_listing_cache=off,new_editor=25%".
type Manager struct {
	flags map[string]string
}

// NewManager parses raw. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	return &Manager{flags: parse(raw)}
}

func parse(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// On reports whether a flag is switched on for everyone. Percentage
// rollouts only count as on at 100%.
func (m *Manager) On(name string) bool {
	return m.Enabled(name, 0)
}

// OnByDefault is like On but treats an unset flag as enabled.
func (m *Manager) OnByDefault(name string) bool {
	if m == nil {
		return true
	}
	if _, ok := m.flags[normalize(name)]; !ok {
		return true
	}
	return m.On(name)
}

// Enabled reports whether a flag is on for userID. Values on/true/1 and
// off/false/0 apply to everyone; N% enables a stable N percent of users.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil, pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Names returns the configured flag names in sorted order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.flags))
	for k := range m.flags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot evaluates every configured flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}

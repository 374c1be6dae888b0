package cache

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
)

// Stats is a point-in-time snapshot of the cache backend.
type Stats struct {
	// Enabled reports whether caching is active.
	Enabled bool `json:"enabled"`
	// Connected reports whether the backend answered the stats probe.
	Connected bool `json:"connected"`
	// Keys is the number of keys in the selected database.
	Keys int64 `json:"keys"`
	// UsedMemory is the human-readable memory figure from INFO, or "N/A".
	UsedMemory string `json:"used_memory"`
}

// Stats reports cache health. It never returns an error; an unreachable
// backend yields Connected=false.
func (c *Cache) Stats(ctx context.Context) Stats {
	if !c.Enabled() {
		return Stats{Enabled: false, UsedMemory: "N/A"}
	}

	st := Stats{Enabled: true, UsedMemory: "N/A"}
	n, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.log.Error("cache: dbsize failed", slog.Any("error", err))
		return st
	}
	st.Connected = true
	st.Keys = n

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		c.log.Debug("cache: info memory unavailable", slog.Any("error", err))
		return st
	}
	if v := infoField(info, "used_memory_human"); v != "" {
		st.UsedMemory = v
	}
	return st
}

// infoField extracts field from the "key:value" lines of an INFO reply.
func infoField(info, field string) string {
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if ok && k == field {
			return v
		}
	}
	return ""
}

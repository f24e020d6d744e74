package coordinator

import (
	"context"
	"sync"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/broadcast"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/logger"
)

// WriterDisabledReason is reported for writer and rewriter while the
// enableWriter setting is off.
const WriterDisabledReason = "Toggle in settings"

// Cache holds the process-wide settings and capability snapshot.
type Cache struct {
	store Store
	caps  *capability.Set
	hub   *broadcast.Hub[Event]
	log   logger.Logger

	mu       sync.Mutex
	settings annotation.Settings
	snapshot capability.Snapshot
}

// NewCache creates a Cache seeded with defaults. Call Load to read the store.
func NewCache(store Store, caps *capability.Set, hub *broadcast.Hub[Event], log logger.Logger) *Cache {
	return &Cache{
		store:    store,
		caps:     caps,
		hub:      hub,
		log:      log,
		settings: annotation.DefaultSettings(),
		snapshot: capability.DefaultSnapshot(),
	}
}

// Load reads settings and the last snapshot from the store.
func (c *Cache) Load(ctx context.Context) error {
	settings, err := c.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	snap, err := c.store.GetCapabilitySnapshot(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.settings = settings
	c.snapshot = snap
	c.mu.Unlock()
	return nil
}

// Settings returns the cached settings.
func (c *Cache) Settings() annotation.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Snapshot returns the cached capability snapshot.
func (c *Cache) Snapshot() capability.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// UpdateSettings persists a partial update and caches the merged result.
func (c *Cache) UpdateSettings(ctx context.Context, patch annotation.SettingsPatch) (annotation.Settings, error) {
	settings, err := c.store.UpdateSettings(ctx, patch)
	if err != nil {
		return annotation.Settings{}, err
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return settings, nil
}

// Refresh re-checks every capability, persists and broadcasts the snapshot.
// Writer and rewriter are only checked when enableWriter is set.
func (c *Cache) Refresh(ctx context.Context) (capability.Snapshot, error) {
	enableWriter := c.Settings().EnableWriter

	snap := capability.DefaultSnapshot()
	for _, m := range c.caps.All() {
		var st capability.DownloadState
		switch {
		case (m.Name() == capability.NameWriter || m.Name() == capability.NameRewriter) && !enableWriter:
			st = capability.Unavailable(WriterDisabledReason)
		default:
			st = m.Availability(ctx)
		}
		snap = snap.With(m.Name(), st)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	if err := c.store.SaveCapabilitySnapshot(ctx, snap); err != nil {
		return snap, err
	}
	c.hub.Broadcast(availabilityEvent(snap))
	return snap, nil
}

// Patch updates one capability entry, persists and rebroadcasts. It never
// re-checks.
func (c *Cache) Patch(ctx context.Context, name string, st capability.DownloadState) error {
	c.mu.Lock()
	c.snapshot = c.snapshot.With(name, st)
	snap := c.snapshot
	c.mu.Unlock()

	if err := c.store.SaveCapabilitySnapshot(ctx, snap); err != nil {
		c.log.Warn("failed to persist capability snapshot", "capability", name, "error", err)
		return err
	}
	c.hub.Broadcast(availabilityEvent(snap))
	return nil
}

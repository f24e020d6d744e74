package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/errors"
)

// Document keys.
const (
	settingsKey     = "preferences"
	capabilitiesKey = "capabilities:latest"
)

// DefaultListLimit is used when ListSummaries is called with limit <= 0.
const DefaultListLimit = 50

// Store is the persistence adapter used by the coordinator.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) SaveDrawing(ctx context.Context, d *annotation.DrawingRecord) error {
	return SaveDrawing(ctx, s.db, d)
}

func (s *Store) GetDrawingsByURL(ctx context.Context, url string) ([]annotation.DrawingRecord, error) {
	return GetDrawingsByURL(ctx, s.db, url)
}

func (s *Store) SaveSummary(ctx context.Context, r *annotation.SummaryRecord) error {
	return SaveSummary(ctx, s.db, r)
}

func (s *Store) UpdateSummaryStatus(ctx context.Context, id string, status annotation.Status, errMsg string) error {
	return UpdateSummaryStatus(ctx, s.db, id, status, errMsg)
}

func (s *Store) GetSummary(ctx context.Context, id string) (*annotation.SummaryRecord, error) {
	return GetSummary(ctx, s.db, id)
}

// ListSummaries returns up to limit summaries ordered by creation time, newest first.
func (s *Store) ListSummaries(ctx context.Context, limit int) ([]annotation.SummaryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return ListSummaries(ctx, s.db, limit, "")
}

// ListSummariesByURL is ListSummaries restricted to one page.
func (s *Store) ListSummariesByURL(ctx context.Context, url string, limit int) ([]annotation.SummaryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return ListSummaries(ctx, s.db, limit, url)
}

// GetCapabilitySnapshot returns the stored snapshot, or all-unavailable when none is stored.
func (s *Store) GetCapabilitySnapshot(ctx context.Context) (capability.Snapshot, error) {
	raw, ok, err := getDocument(ctx, s.db, capabilitiesKey)
	if err != nil || !ok {
		return capability.DefaultSnapshot(), err
	}
	snap := capability.DefaultSnapshot()
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return capability.DefaultSnapshot(), errors.NewInternal(err)
	}
	return snap, nil
}

func (s *Store) SaveCapabilitySnapshot(ctx context.Context, snap capability.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.NewInternal(err)
	}
	return putDocument(ctx, s.db, capabilitiesKey, string(data), time.Now().UnixMilli())
}

// GetSettings returns stored settings merged over the defaults.
func (s *Store) GetSettings(ctx context.Context) (annotation.Settings, error) {
	raw, _, err := getDocument(ctx, s.db, settingsKey)
	if err != nil {
		return annotation.DefaultSettings(), err
	}
	return settingsFromJSON(raw), nil
}

// UpdateSettings applies a partial update and returns the merged settings.
// Only the fields present in patch are written.
func (s *Store) UpdateSettings(ctx context.Context, patch annotation.SettingsPatch) (annotation.Settings, error) {
	if patch.Mode != nil && !patch.Mode.Valid() {
		return annotation.Settings{}, errors.NewInvalidRequest("mode must be on-device or cloud")
	}

	raw, _, err := getDocument(ctx, s.db, settingsKey)
	if err != nil {
		return annotation.Settings{}, err
	}
	if raw == "" {
		raw = "{}"
	}

	if patch.Mode != nil {
		raw, err = sjson.Set(raw, "mode", string(*patch.Mode))
	}
	if err == nil && patch.AutoOpenSidePanel != nil {
		raw, err = sjson.Set(raw, "autoOpenSidePanel", *patch.AutoOpenSidePanel)
	}
	if err == nil && patch.EnableWriter != nil {
		raw, err = sjson.Set(raw, "enableWriter", *patch.EnableWriter)
	}
	if err == nil && patch.CloudAPIKey != nil {
		if *patch.CloudAPIKey == "" {
			raw, err = sjson.Delete(raw, "cloudApiKey")
		} else {
			raw, err = sjson.Set(raw, "cloudApiKey", *patch.CloudAPIKey)
		}
	}
	if err != nil {
		return annotation.Settings{}, errors.NewInternal(err)
	}

	if err := putDocument(ctx, s.db, settingsKey, raw, time.Now().UnixMilli()); err != nil {
		return annotation.Settings{}, err
	}
	return settingsFromJSON(raw), nil
}

// settingsFromJSON overlays the stored fields on the defaults.
// Fields with the wrong type are ignored.
func settingsFromJSON(raw string) annotation.Settings {
	out := annotation.DefaultSettings()
	doc := gjson.Parse(raw)
	if m := doc.Get("mode"); m.Type == gjson.String && annotation.Mode(m.String()).Valid() {
		out.Mode = annotation.Mode(m.String())
	}
	if v := doc.Get("autoOpenSidePanel"); v.IsBool() {
		out.AutoOpenSidePanel = v.Bool()
	}
	if v := doc.Get("enableWriter"); v.IsBool() {
		out.EnableWriter = v.Bool()
	}
	if v := doc.Get("cloudApiKey"); v.Type == gjson.String {
		out.CloudAPIKey = v.String()
	}
	return out
}

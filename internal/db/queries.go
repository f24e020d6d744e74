package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/errors"
)

// SaveDrawing upserts a drawing record by id.
func SaveDrawing(ctx context.Context, db *sql.DB, d *annotation.DrawingRecord) error {
	strokes := d.Strokes
	if strokes == nil {
		strokes = []annotation.Stroke{}
	}
	data, err := json.Marshal(strokes)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO drawings (id, url, strokes_json, stroke_count, image_data_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			strokes_json = excluded.strokes_json,
			stroke_count = excluded.stroke_count,
			image_data_url = excluded.image_data_url,
			updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		d.ID, d.URL, string(data), len(strokes), toNullString(d.ImageDataURL),
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetDrawingsByURL returns drawings for an exact URL, most recently updated first.
func GetDrawingsByURL(ctx context.Context, db *sql.DB, url string) ([]annotation.DrawingRecord, error) {
	query := `
		SELECT id, url, strokes_json, image_data_url, created_at, updated_at
		FROM drawings
		WHERE url = ?
		ORDER BY updated_at DESC, id DESC
	`

	rows, err := db.QueryContext(ctx, query, url)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	drawings := []annotation.DrawingRecord{}
	for rows.Next() {
		var (
			d       annotation.DrawingRecord
			strokes string
			image   sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.URL, &strokes, &image, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(strokes), &d.Strokes); err != nil {
			return nil, errors.NewInternal(err)
		}
		d.ImageDataURL = fromNullString(image)
		drawings = append(drawings, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return drawings, nil
}

// SaveSummary upserts a summary record by id.
func SaveSummary(ctx context.Context, db *sql.DB, s *annotation.SummaryRecord) error {
	query := `
		INSERT INTO summaries (
			id, request_id, source, text, summary, url, title,
			status, error, mode, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			status = excluded.status,
			error = excluded.error
	`

	_, err := db.ExecContext(ctx, query,
		s.ID, s.RequestID, string(s.Source), s.Text, s.Summary, s.URL, s.Title,
		string(s.Status), toNullString(s.Error), string(s.Mode), s.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateSummaryStatus sets the status and error of an existing summary.
func UpdateSummaryStatus(ctx context.Context, db *sql.DB, id string, status annotation.Status, errMsg string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE summaries SET status = ?, error = ? WHERE id = ?`,
		string(status), toNullString(errMsg), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("summary", id)
	}
	return nil
}

// GetSummary retrieves a summary by id.
func GetSummary(ctx context.Context, db *sql.DB, id string) (*annotation.SummaryRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM summaries WHERE id = ?`, id)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("summary", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSummaries returns up to limit summaries, newest first.
// A non-empty url restricts the list to that page.
func ListSummaries(ctx context.Context, db *sql.DB, limit int, url string) ([]annotation.SummaryRecord, error) {
	query := `SELECT ` + summaryColumns + ` FROM summaries`
	args := []any{}
	if url != "" {
		query += ` WHERE url = ?`
		args = append(args, url)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	summaries := []annotation.SummaryRecord{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		summaries = append(summaries, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return summaries, nil
}

const summaryColumns = `id, request_id, source, text, summary, url, title, status, error, mode, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*annotation.SummaryRecord, error) {
	var (
		s                    annotation.SummaryRecord
		source, status, mode string
		errMsg               sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.RequestID, &source, &s.Text, &s.Summary, &s.URL, &s.Title,
		&status, &errMsg, &mode, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Source = annotation.Source(source)
	s.Status = annotation.Status(status)
	s.Mode = annotation.Mode(mode)
	s.Error = fromNullString(errMsg)
	return &s, nil
}

// getDocument reads a JSON document by key. ok is false when absent.
func getDocument(ctx context.Context, db *sql.DB, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value_json FROM documents WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// putDocument upserts a JSON document by key.
func putDocument(ctx context.Context, db *sql.DB, key, value string, now int64) error {
	query := `
		INSERT INTO documents (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, value, now); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// toNullString maps the empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString maps NULL to the empty string.
func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// Package export joins completed summaries into one plain-text document and
// writes it to disk.
package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/errors"
)

// Bullet prefixes each summary in the combined text.
const Bullet = "• "

// Combined is the joined text of every completed summary in a list.
type Combined struct {
	Text        string `json:"text"`
	Count       int    `json:"count"`
	URL         string `json:"url,omitempty"`
	GeneratedAt int64  `json:"generatedAt"` // Unix milliseconds
}

// WriteOutput contains the result of WriteFile.
type WriteOutput struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
	Bytes int    `json:"bytes"`
}

// Combine joins the completed records, in list order, one bullet each.
// Pending, failed and cancelled records are skipped.
func Combine(records []annotation.SummaryRecord) (string, int) {
	var parts []string
	for _, r := range records {
		if r.Status != annotation.StatusCompleted {
			continue
		}
		parts = append(parts, Bullet+r.Summary)
	}
	return strings.Join(parts, "\n"), len(parts)
}

// FileName is the download name for a combined export made at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("scribbly-summary-%d.txt", now.UnixMilli())
}

// DefaultPath returns ~/.scribbly/exports/<FileName>.
func DefaultPath(now time.Time) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".scribbly", "exports", FileName(now)), nil
}

// ResolvePath picks the destination for c. An empty path uses DefaultPath;
// an existing directory (or a path ending in a separator) gets FileName
// appended.
func ResolvePath(path string, c *Combined) (string, error) {
	now := time.UnixMilli(c.GeneratedAt)
	if path == "" {
		return DefaultPath(now)
	}
	if strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") {
		return filepath.Join(path, FileName(now)), nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, FileName(now)), nil
	}
	return path, nil
}

// WriteFile writes c.Text to path atomically: a temp file next to the
// destination is renamed into place, so an existing file survives a failure.
func WriteFile(ctx context.Context, path string, c *Combined) (*WriteOutput, error) {
	if c == nil || c.Text == "" {
		return nil, errors.NewInvalidRequest("no completed summaries to export")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled(err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	data := c.Text + "\n"
	if _, err := file.WriteString(data); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &WriteOutput{Path: path, Count: c.Count, Bytes: len(data)}, nil
}

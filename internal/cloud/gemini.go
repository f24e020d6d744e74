// Package cloud calls a hosted generative-content API to summarize text when
// the user prefers cloud mode.
package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hpungsan/scribbly/internal/errors"
)

// SummaryPrompt is the instruction placed before the selected text.
const SummaryPrompt = "Summarize the following text into concise bullet points. Put each point on its own line.\n\n"

// Client posts single-turn generation requests.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for model at endpoint
// (for example https://generativelanguage.googleapis.com/v1beta).
func NewClient(endpoint, model string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Summarize sends text to the model and returns the first candidate's text.
func (c *Client) Summarize(ctx context.Context, apiKey, text string) (string, error) {
	if apiKey == "" {
		return "", errors.NewMissingAPIKey()
	}

	body, err := sjson.SetBytes(nil, "contents.0.role", "user")
	if err != nil {
		return "", errors.NewInternal(err)
	}
	body, err = sjson.SetBytes(body, "contents.0.parts.0.text", SummaryPrompt+text)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, url.PathEscape(c.model), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.NewCancelled(ctxErr)
		}
		return "", errors.NewCloudRequestFailed(0, redact(err, apiKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errors.NewCloudRequestFailed(resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewCloudRequestFailed(resp.StatusCode, fmt.Errorf("%s", gjson.GetBytes(raw, "error.message").String()))
	}

	out := strings.TrimSpace(gjson.GetBytes(raw, "candidates.0.content.parts.0.text").String())
	if out == "" {
		return "", errors.NewEmptyResponse("cloud summarizer")
	}
	return out, nil
}

// redact strips the API key from transport errors, which embed the URL.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}

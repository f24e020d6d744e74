package capability

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// LocalHost is a model host speaking the Ollama HTTP API.
type LocalHost struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewLocalHost creates a LocalHost serving model from baseURL.
func NewLocalHost(baseURL, model string) *LocalHost {
	return &LocalHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Model returns the configured model name.
func (h *LocalHost) Model() string { return h.model }

// Backend returns the backend for one capability on this host.
func (h *LocalHost) Backend(d Descriptor) Backend {
	return &LocalBackend{host: h, desc: d}
}

// Ping checks that the host answers.
func (h *LocalHost) Ping(ctx context.Context) error {
	body, err := h.get(ctx, "/api/version")
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "version").Exists() {
		return fmt.Errorf("model host %s: unexpected version payload", h.baseURL)
	}
	return nil
}

// HasModel reports whether the configured model is installed.
func (h *LocalHost) HasModel(ctx context.Context) (bool, error) {
	body, err := h.get(ctx, "/api/tags")
	if err != nil {
		return false, err
	}
	for _, name := range gjson.GetBytes(body, "models.#.name").Array() {
		if name.String() == h.model || name.String() == h.model+":latest" {
			return true, nil
		}
	}
	return false, nil
}

func (h *LocalHost) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model host request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model host %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// post sends body to path and returns the open response. The caller closes it.
func (h *LocalHost) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model host request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg := gjson.GetBytes(readLimited(resp.Body), "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("model host %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return resp, nil
}

func readLimited(r io.Reader) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	return b
}

// eachLine calls fn for every non-empty NDJSON line of r. A line carrying an
// "error" field stops the scan with that error.
func eachLine(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if msg := gjson.GetBytes(line, "error"); msg.Exists() {
			return fmt.Errorf("model host: %s", msg.String())
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// LocalBackend exposes one capability of a LocalHost.
type LocalBackend struct {
	host *LocalHost
	desc Descriptor
}

// Availability maps the host's installed models onto a raw availability:
// installed is readily, missing is after-download.
func (b *LocalBackend) Availability(ctx context.Context) (*AvailabilityResult, error) {
	ok, err := b.host.HasModel(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return &AvailabilityResult{Availability: Readily}, nil
	}
	return &AvailabilityResult{
		Availability: AfterDownload,
		Reason:       fmt.Sprintf("model %s must be downloaded", b.host.model),
	}, nil
}

// Create pulls the model when a monitor is supplied, reporting pull progress
// as downloadprogress events.
func (b *LocalBackend) Create(ctx context.Context, monitor Monitor) (Session, error) {
	if monitor != nil {
		if err := b.pull(ctx, monitor); err != nil {
			return nil, err
		}
	}
	return &localSession{host: b.host, desc: b.desc}, nil
}

func (b *LocalBackend) pull(ctx context.Context, monitor Monitor) error {
	body, err := sjson.SetBytes(nil, "model", b.host.model)
	if err != nil {
		return err
	}
	body, _ = sjson.SetBytes(body, "stream", true)

	resp, err := b.host.post(ctx, "/api/pull", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return eachLine(resp.Body, func(line []byte) error {
		res := gjson.ParseBytes(line)
		total := res.Get("total")
		if !total.Exists() {
			return nil
		}
		t := total.Float()
		monitor(EventDownloadProgress, Progress{Completed: res.Get("completed").Float(), Total: &t})
		return nil
	})
}

type localSession struct {
	host *LocalHost
	desc Descriptor
}

// request translates a capability request into a host request.
func (s *localSession) request(req []byte, stream bool) ([]byte, error) {
	body, err := sjson.SetBytes(nil, "model", s.host.model)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetBytes(body, "stream", stream)

	in := gjson.ParseBytes(req)
	if s.desc.Endpoint == "/api/chat" {
		msgs := in.Get("messages")
		if !msgs.IsArray() {
			return nil, fmt.Errorf("%s request has no messages", s.desc.Name)
		}
		return sjson.SetRawBytes(body, "messages", []byte(msgs.Raw))
	}

	var parts []string
	for _, p := range []string{s.desc.Instruction, in.Get("prompt").String(), in.Get("text").String()} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return sjson.SetBytes(body, "prompt", strings.Join(parts, "\n\n"))
}

// text reads the generated text from one host response object.
func (s *localSession) text(res gjson.Result) string {
	if s.desc.Endpoint == "/api/chat" {
		return res.Get("message.content").String()
	}
	return res.Get("response").String()
}

func (s *localSession) wrap(text string) ([]byte, error) {
	return sjson.SetBytes(nil, s.desc.ResultPath, text)
}

func (s *localSession) Invoke(ctx context.Context, req []byte) ([]byte, error) {
	body, err := s.request(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := s.host.post(ctx, s.desc.Endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	return s.wrap(s.text(gjson.ParseBytes(raw)))
}

func (s *localSession) Stream(ctx context.Context, req []byte, yield func(chunk []byte) error) error {
	body, err := s.request(req, true)
	if err != nil {
		return err
	}
	resp, err := s.host.post(ctx, s.desc.Endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return eachLine(resp.Body, func(line []byte) error {
		text := s.text(gjson.ParseBytes(line))
		if text == "" {
			return nil
		}
		chunk, err := s.wrap(text)
		if err != nil {
			return err
		}
		return yield(chunk)
	})
}

// Dispose asks the host to unload the model.
func (s *localSession) Dispose() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := sjson.SetBytes(nil, "model", s.host.model)
	if err != nil {
		return err
	}
	body, _ = sjson.SetBytes(body, "keep_alive", 0)

	resp, err := s.host.post(ctx, "/api/generate", body)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

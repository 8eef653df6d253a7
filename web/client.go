package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kittyfuzz/kitty/fuzz"
	"github.com/kittyfuzz/kitty/model"
	"github.com/kittyfuzz/kitty/report"
	"github.com/kittyfuzz/kitty/store"
)

// Client talks to the web interface of a running session.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the interface at host:port.
func NewClient(host string, port int) *Client {
	return &Client{
		base: fmt.Sprintf("http://%s:%d", host, port),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientURL returns a client for an explicit base URL, used in
// tests.
func NewClientURL(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response of %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s: unexpected status %s", req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response of %s: %w", req.URL.Path, err)
	}
	return nil
}

// Stats fetches the session progress.
func (c *Client) Stats(ctx context.Context) (fuzz.Stats, error) {
	var s fuzz.Stats
	err := c.get(ctx, "/api/stats.json", nil, &s)
	return s, err
}

// Pause suspends the session.
func (c *Client) Pause(ctx context.Context) error {
	return c.post(ctx, "/api/action/pause", nil)
}

// Resume resumes a paused session.
func (c *Client) Resume(ctx context.Context) error {
	return c.post(ctx, "/api/action/resume", nil)
}

// ReportSummaries lists the stored reports of the session.
func (c *Client) ReportSummaries(ctx context.Context) ([]store.ReportSummary, error) {
	var out struct {
		Reports []store.ReportSummary `json:"reports"`
	}
	if err := c.get(ctx, "/api/report_list.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// Report fetches the full report of a test.
func (c *Client) Report(ctx context.Context, testID int) (*report.Report, error) {
	q := url.Values{"report_id": []string{fmt.Sprint(testID)}}
	var r report.Report
	if err := c.get(ctx, "/api/report", q, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// TemplateInfo fetches the model description.
func (c *Client) TemplateInfo(ctx context.Context) ([]*model.FieldInfo, error) {
	var out struct {
		Templates []*model.FieldInfo `json:"templates"`
	}
	if err := c.get(ctx, "/api/template_info.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// Stages fetches the stage names of the model.
func (c *Client) Stages(ctx context.Context) ([]string, error) {
	var out struct {
		Stages []string `json:"stages"`
	}
	if err := c.get(ctx, "/api/stages.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Stages, nil
}

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type Target struct {
	Name          string `json:"name"`
	Host          string `json:"host"`
	Port          int    `json:"port,omitempty"`
	ServiceName   string `json:"service"`
	InstallPath   string `json:"installPath"`
	HealthURL     string `json:"healthUrl"`
	ActiveVersion string `json:"activeVersion,omitempty"`
}

type StageResult struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type Run struct {
	ID              string        `json:"id"`
	Target          string        `json:"target"`
	Revision        string        `json:"revision"`
	ArtifactVersion string        `json:"artifactVersion"`
	PriorVersion    string        `json:"priorVersion"`
	Status          string        `json:"status"`
	Escalated       bool          `json:"escalated"`
	Inconsistent    bool          `json:"inconsistent"`
	Stages          []StageResult `json:"stages"`
	StartedAt       string        `json:"startedAt"`
	FinishedAt      string        `json:"finishedAt,omitempty"`
}

type Event struct {
	RunID     string `json:"runId"`
	Timestamp string `json:"timestamp"`
	Target    string `json:"target"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

type Artifact struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	SizeBytes int64  `json:"sizeBytes"`
	CreatedAt string `json:"createdAt"`
}

type HealthStatus struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) ListTargets() ([]Target, error) {
	var targets []Target
	if err := c.get("/api/targets", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (c *Client) GetTarget(name string) (*Target, error) {
	var t Target
	if err := c.get("/api/targets/"+name, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListRuns(target string, limit int) ([]Run, error) {
	path := fmt.Sprintf("/api/runs?limit=%d", limit)
	if target != "" {
		path += "&target=" + target
	}
	var runs []Run
	if err := c.get(path, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) GetRun(id string) (*Run, error) {
	var r Run
	if err := c.get("/api/runs/"+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) RunEvents(id string) ([]Event, error) {
	var events []Event
	if err := c.get("/api/runs/"+id+"/events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) ListArtifacts() ([]Artifact, error) {
	var arts []Artifact
	if err := c.get("/api/artifacts", &arts); err != nil {
		return nil, err
	}
	return arts, nil
}

func (c *Client) Deploy(target, revision string) error {
	body := fmt.Sprintf(`{"revision":%q}`, revision)
	return c.post("/api/targets/"+target+"/deploy", body)
}

func (c *Client) Rollback(target string) error {
	return c.post("/api/targets/"+target+"/rollback", "{}")
}

func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path, body string) error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

// WebSocketURL returns the event stream endpoint, optionally filtered
// to a single target.
func (c *Client) WebSocketURL(target string) string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	if target != "" {
		return base + "/ws?target=" + target
	}
	return base + "/ws"
}

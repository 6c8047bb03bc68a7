package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
)

// maxSummaryLen is the downstream limit on issue summaries.
const maxSummaryLen = 120

// CreateIssueRequest carries the fields for a downstream issue.
type CreateIssueRequest struct {
	ProjectKey   string
	Summary      string
	Description  string
	IssueType    string
	Priority     string
	Labels       []string
	Components   []string
	CustomFields map[string]interface{}
}

// Issue is the downstream's identity for a created issue.
type Issue struct {
	Key string `json:"key"`
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Attachment describes one uploaded file.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// ServerInfo is the downstream's identification endpoint payload, used by
// the tenant config test-connection operation.
type ServerInfo struct {
	Title   string `json:"serverTitle"`
	Version string `json:"version"`
	Build   int64  `json:"buildNumber"`
}

// JiraClient abstracts the downstream issue tracker REST API.
type JiraClient interface {
	CreateIssue(ctx context.Context, req CreateIssueRequest) (*Issue, error)
	AttachFile(ctx context.Context, issueKey, filename string, content []byte) (*Attachment, error)
	ServerInfo(ctx context.Context) (*ServerInfo, error)
}

type httpJiraClient struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// NewJiraClient constructs a client authenticated with an email + API token
// pair against the given server base URL (no trailing slash).
func NewJiraClient(baseURL, email, apiToken string) JiraClient {
	return &httpJiraClient{
		baseURL:  baseURL,
		email:    email,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// classifyJiraStatus maps a downstream HTTP status onto the fault taxonomy.
func classifyJiraStatus(status int, op string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Downstream(fault.SubAuth, nil, fmt.Sprintf("%s: HTTP %d", op, status))
	case status == http.StatusNotFound:
		return fault.Downstream(fault.SubNotFound, nil, fmt.Sprintf("%s: HTTP %d", op, status))
	case status == http.StatusTooManyRequests:
		return fault.Downstream(fault.SubRateLimited, nil, fmt.Sprintf("%s: HTTP %d", op, status))
	case status >= 500:
		return fault.Downstream(fault.SubServer, nil, fmt.Sprintf("%s: HTTP %d", op, status))
	case status < 200 || status >= 300:
		return fault.Downstream(fault.SubServer, nil, fmt.Sprintf("%s: unexpected HTTP %d", op, status))
	}
	return nil
}

func (c *httpJiraClient) doJSON(req *http.Request, op string, dest interface{}) error {
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Downstream(fault.SubNetwork, err, op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Downstream(fault.SubNetwork, err, op+": read body")
	}
	if err := classifyJiraStatus(resp.StatusCode, op); err != nil {
		return err
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fault.Downstream(fault.SubServer, err, op+": decode response")
		}
	}
	return nil
}

func (c *httpJiraClient) CreateIssue(ctx context.Context, in CreateIssueRequest) (*Issue, error) {
	// Truncate on rune boundaries; a byte slice could split a multi-byte
	// character and ship invalid UTF-8 downstream.
	summary := in.Summary
	if runes := []rune(summary); len(runes) > maxSummaryLen {
		summary = string(runes[:maxSummaryLen-3]) + "..."
	}
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Bug"
	}

	fields := map[string]interface{}{
		"project":   map[string]string{"key": in.ProjectKey},
		"summary":   summary,
		"description": in.Description,
		"issuetype": map[string]string{"name": issueType},
	}
	if in.Priority != "" {
		fields["priority"] = map[string]string{"name": in.Priority}
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}
	if len(in.Components) > 0 {
		comps := make([]map[string]string, 0, len(in.Components))
		for _, name := range in.Components {
			comps = append(comps, map[string]string{"name": name})
		}
		fields["components"] = comps
	}
	for k, v := range in.CustomFields {
		fields[k] = v
	}

	body, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("jira client: marshal issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/api/2/issue", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jira client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.doJSON(req, "CreateIssue", &resp); err != nil {
		return nil, err
	}
	return &Issue{
		Key: resp.Key,
		ID:  resp.ID,
		URL: c.baseURL + "/browse/" + resp.Key,
	}, nil
}

func (c *httpJiraClient) AttachFile(ctx context.Context, issueKey, filename string, content []byte) (*Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("jira client: build multipart: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("jira client: write multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("jira client: close multipart: %w", err)
	}

	u := fmt.Sprintf("%s/rest/api/2/issue/%s/attachments", c.baseURL, issueKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, fmt.Errorf("jira client: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	var resp []struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}
	if err := c.doJSON(req, "AttachFile", &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fault.Downstream(fault.SubServer, nil, "AttachFile: empty response")
	}
	return &Attachment{ID: resp[0].ID, Filename: resp[0].Filename, Size: resp[0].Size}, nil
}

func (c *httpJiraClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/api/2/serverInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("jira client: build request: %w", err)
	}
	var info ServerInfo
	if err := c.doJSON(req, "ServerInfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

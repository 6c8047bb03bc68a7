// Package client provides HTTP facades for the external services the
// pipeline talks to: the upstream ticket source, the downstream issue
// tracker, the OCR engines, the PDF engine sidecar, and the NER tagger.
// Each facade is an interface so the service layer and tests can swap in
// mocks.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
)

// Ticket is the upstream ticket projection the pipeline consumes.
type Ticket struct {
	ID          int64     `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Requester   int64     `json:"requester_id"`
	ViaChannel  string    `json:"via_channel"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Comment is one ticket comment, with any file attachments.
type Comment struct {
	ID          int64           `json:"id"`
	Body        string          `json:"body"`
	Public      bool            `json:"public"`
	AuthorID    int64           `json:"author_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Attachments []AttachmentRef `json:"attachments"`
}

// AttachmentRef points at a downloadable ticket attachment.
type AttachmentRef struct {
	Filename    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ContentURL  string `json:"content_url"`
	Size        int64  `json:"size"`
}

// TokenResponse is the upstream OAuth token grant response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ZendeskClient abstracts the upstream ticket source REST API and its OAuth
// token endpoint.
type ZendeskClient interface {
	GetTicket(ctx context.Context, subdomain, accessToken string, ticketID int64) (*Ticket, error)
	ListComments(ctx context.Context, subdomain, accessToken string, ticketID int64) ([]Comment, error)
	FetchAttachment(ctx context.Context, accessToken, contentURL string) ([]byte, error)

	ExchangeAuthCode(ctx context.Context, subdomain, code, clientID, clientSecret, redirectURI string) (*TokenResponse, error)
	RefreshToken(ctx context.Context, subdomain, refreshToken, clientID, clientSecret string) (*TokenResponse, error)
}

type httpZendeskClient struct {
	// host is the upstream base domain, e.g. "zendesk.com".
	host       string
	httpClient *http.Client
}

// NewZendeskClient constructs the production client. host is the upstream
// base domain without a subdomain.
func NewZendeskClient(host string) ZendeskClient {
	return &httpZendeskClient{
		host: host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *httpZendeskClient) baseURL(subdomain string) string {
	return fmt.Sprintf("https://%s.%s", subdomain, c.host)
}

func (c *httpZendeskClient) getJSON(ctx context.Context, accessToken, rawURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("zendesk client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryTransient, err, "upstream request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryTransient, err, "read upstream body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.New(fault.CodeOAuthRefreshFailed, fault.CategoryAuth, fmt.Sprintf("upstream rejected token: HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fault.New(fault.CodeUpstreamFetchFailed, fault.CategoryTransient, fmt.Sprintf("upstream HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fault.New(fault.CodeUpstreamFetchFailed, fault.CategoryPermanent, fmt.Sprintf("upstream HTTP %d", resp.StatusCode))
	}

	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryPermanent, err, "decode upstream response")
		}
	}
	return nil
}

func (c *httpZendeskClient) GetTicket(ctx context.Context, subdomain, accessToken string, ticketID int64) (*Ticket, error) {
	var resp struct {
		Ticket struct {
			ID          int64     `json:"id"`
			Subject     string    `json:"subject"`
			Description string    `json:"description"`
			RequesterID int64     `json:"requester_id"`
			Tags        []string  `json:"tags"`
			CreatedAt   time.Time `json:"created_at"`
			UpdatedAt   time.Time `json:"updated_at"`
			Via         struct {
				Channel string `json:"channel"`
			} `json:"via"`
		} `json:"ticket"`
	}
	u := fmt.Sprintf("%s/api/v2/tickets/%d.json", c.baseURL(subdomain), ticketID)
	if err := c.getJSON(ctx, accessToken, u, &resp); err != nil {
		return nil, fmt.Errorf("GetTicket: %w", err)
	}
	t := resp.Ticket
	return &Ticket{
		ID:          t.ID,
		Subject:     t.Subject,
		Description: t.Description,
		Requester:   t.RequesterID,
		ViaChannel:  t.Via.Channel,
		Tags:        t.Tags,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func (c *httpZendeskClient) ListComments(ctx context.Context, subdomain, accessToken string, ticketID int64) ([]Comment, error) {
	var resp struct {
		Comments []Comment `json:"comments"`
	}
	u := fmt.Sprintf("%s/api/v2/tickets/%d/comments.json", c.baseURL(subdomain), ticketID)
	if err := c.getJSON(ctx, accessToken, u, &resp); err != nil {
		return nil, fmt.Errorf("ListComments: %w", err)
	}
	return resp.Comments, nil
}

func (c *httpZendeskClient) FetchAttachment(ctx context.Context, accessToken, contentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("FetchAttachment: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryTransient, err, "attachment fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cat := fault.CategoryPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			cat = fault.CategoryTransient
		}
		return nil, fault.New(fault.CodeUpstreamFetchFailed, cat, fmt.Sprintf("attachment fetch HTTP %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// ── OAuth token endpoint ──────────────────────────────────────────────────

func (c *httpZendeskClient) postTokenForm(ctx context.Context, subdomain string, form url.Values) (*TokenResponse, error) {
	u := c.baseURL(subdomain) + "/oauth/tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("zendesk client: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.CodeOAuthRefreshFailed, fault.CategoryTransient, err, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.CodeOAuthRefreshFailed, fault.CategoryTransient, err, "read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx here is the invalid_grant class: the refresh token is dead
		// and retrying will not revive it.
		cat := fault.CategoryAuth
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			cat = fault.CategoryTransient
		}
		return nil, fault.New(fault.CodeOAuthRefreshFailed, cat, fmt.Sprintf("token endpoint HTTP %d", resp.StatusCode))
	}

	var tr TokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fault.Wrap(fault.CodeOAuthRefreshFailed, fault.CategoryPermanent, err, "decode token response")
	}
	return &tr, nil
}

func (c *httpZendeskClient) ExchangeAuthCode(ctx context.Context, subdomain, code, clientID, clientSecret, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"redirect_uri":  {redirectURI},
		"scope":         {"read write"},
	}
	tr, err := c.postTokenForm(ctx, subdomain, form)
	if err != nil {
		return nil, fmt.Errorf("ExchangeAuthCode: %w", err)
	}
	return tr, nil
}

func (c *httpZendeskClient) RefreshToken(ctx context.Context, subdomain, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	tr, err := c.postTokenForm(ctx, subdomain, form)
	if err != nil {
		return nil, fmt.Errorf("RefreshToken: %w", err)
	}
	return tr, nil
}

// AuthorizeURL builds the upstream authorization URL for the install flow.
func AuthorizeURL(host, subdomain, clientID, redirectURI, state string) string {
	q := url.Values{
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"scope":         {"read write"},
		"state":         {state},
	}
	return fmt.Sprintf("https://%s.%s/oauth/authorizations/new?%s", subdomain, host, q.Encode())
}

// Package functions holds HTTP clients for the generate-copy and
// fetch-research function services.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	AudienceCopy     = "copygen"
	AudienceResearch = "research"

	defaultCopyTimeout     = 120 * time.Second
	defaultResearchTimeout = 180 * time.Second
)

// TokenSigner issues internal service tokens for an audience.
type TokenSigner interface {
	Sign(audience string) (string, error)
}

// APIError represents a function service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CopyContext is the project context sent with a generation request.
type CopyContext struct {
	ToneOfVoice   string `json:"toneOfVoice"`
	ResearchData  string `json:"researchData,omitempty"`
	CustomNotes   string `json:"customNotes,omitempty"`
	StrategyBrief string `json:"strategyBrief,omitempty"`
}

// CopyRequest is the generate-copy request body. When Messages is empty the
// service falls back to the single Prompt.
type CopyRequest struct {
	Prompt   string      `json:"prompt,omitempty"`
	Messages []Message   `json:"messages,omitempty"`
	Context  CopyContext `json:"context"`
}

type copyResponse struct {
	GeneratedCopy string `json:"generatedCopy"`
}

// ResearchRequest is the fetch-research request body.
type ResearchRequest struct {
	WebsiteURL  string `json:"websiteUrl"`
	ProjectName string `json:"projectName,omitempty"`
}

type researchResponse struct {
	ResearchData string `json:"researchData"`
}

// Client calls one function service over HTTP.
type Client struct {
	baseURL    string
	audience   string
	signer     TokenSigner
	httpClient *http.Client
}

// CopyClient calls generate-copy.
type CopyClient struct{ c *Client }

// ResearchClient calls fetch-research.
type ResearchClient struct{ c *Client }

// NewCopyClient constructs a generate-copy client. signer may be nil.
func NewCopyClient(baseURL string, signer TokenSigner, timeout time.Duration) *CopyClient {
	if timeout <= 0 {
		timeout = defaultCopyTimeout
	}
	return &CopyClient{c: newClient(baseURL, AudienceCopy, signer, timeout)}
}

// NewResearchClient constructs a fetch-research client. signer may be nil.
func NewResearchClient(baseURL string, signer TokenSigner, timeout time.Duration) *ResearchClient {
	if timeout <= 0 {
		timeout = defaultResearchTimeout
	}
	return &ResearchClient{c: newClient(baseURL, AudienceResearch, signer, timeout)}
}

func newClient(baseURL, audience string, signer TokenSigner, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		audience:   audience,
		signer:     signer,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GenerateCopy returns the generated text. An empty reply is an error.
func (cc *CopyClient) GenerateCopy(ctx context.Context, req CopyRequest) (string, error) {
	var resp copyResponse
	if err := cc.c.post(ctx, "/generate-copy", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.GeneratedCopy) == "" {
		return "", fmt.Errorf("generate-copy: empty response")
	}
	return resp.GeneratedCopy, nil
}

// FetchResearch returns the research payload for a website.
func (rc *ResearchClient) FetchResearch(ctx context.Context, req ResearchRequest) (string, error) {
	var resp researchResponse
	if err := rc.c.post(ctx, "/fetch-research", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ResearchData) == "" {
		return "", fmt.Errorf("fetch-research: empty response")
	}
	return resp.ResearchData, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		token, err := c.signer.Sign(c.audience)
		if err != nil {
			return fmt.Errorf("sign service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", strings.TrimPrefix(path, "/"), err)
	}
	return nil
}

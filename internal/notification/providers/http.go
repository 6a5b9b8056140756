package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docflowhq/docflow/internal/notification/domain"
)

const (
	httpSendTimeout = 30 * time.Second

	enterpriseGatewayURL = "https://mailgateway.internal/api/send"
)

type httpPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// postJSON submits one message to an HTTP email API and treats any non-2xx
// response as a send failure.
func postJSON(ctx context.Context, client *http.Client, url, authHeader, authValue, from string, msg domain.Message) error {
	if len(msg.To) == 0 {
		return domain.ErrNoRecipients
	}

	raw, err := json.Marshal(httpPayload{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, httpSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authValue != "" {
		req.Header.Set(authHeader, authValue)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// RelayProvider posts to a transactional relay service that accepts batched
// recipient lists.
type RelayProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

func NewRelay(baseURL, apiKey, from string) *RelayProvider {
	return &RelayProvider{
		client:  &http.Client{Timeout: httpSendTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
	}
}

func (p *RelayProvider) Name() string { return "relay" }

func (p *RelayProvider) MaxBatchSize() int { return 100 }

func (p *RelayProvider) Send(ctx context.Context, msg domain.Message) error {
	return postJSON(ctx, p.client, p.baseURL+"/v1/send", "Authorization", "Bearer "+p.apiKey, p.from, msg)
}

// EnterpriseProvider is the slow, heavily throttled corporate gateway. Sends
// are strictly one recipient at a time.
type EnterpriseProvider struct {
	client *http.Client
	apiKey string
	from   string
}

func NewEnterprise(apiKey, from string) *EnterpriseProvider {
	return &EnterpriseProvider{
		client: &http.Client{Timeout: httpSendTimeout},
		apiKey: apiKey,
		from:   from,
	}
}

func (p *EnterpriseProvider) Name() string { return "enterprise" }

func (p *EnterpriseProvider) MaxBatchSize() int { return 1 }

func (p *EnterpriseProvider) Send(ctx context.Context, msg domain.Message) error {
	return postJSON(ctx, p.client, enterpriseGatewayURL, "X-Api-Key", p.apiKey, p.from, msg)
}

// APIProvider posts to a generic JSON email API.
type APIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

func NewAPI(baseURL, apiKey, from string) *APIProvider {
	return &APIProvider{
		client:  &http.Client{Timeout: httpSendTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
	}
}

func (p *APIProvider) Name() string { return "api" }

func (p *APIProvider) MaxBatchSize() int { return 50 }

func (p *APIProvider) Send(ctx context.Context, msg domain.Message) error {
	return postJSON(ctx, p.client, p.baseURL+"/messages", "Authorization", "Bearer "+p.apiKey, p.from, msg)
}

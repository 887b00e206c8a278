package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

const defaultAPIURL = "https://api.twitter.com"

// Client is a minimal Twitter API v2 client. Every call takes the bearer
// token it should authenticate with.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a Twitter API client. If apiURL is empty it defaults to
// https://api.twitter.com.
func NewClient(apiURL string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// CreateTweet posts text as a new tweet and returns its ID.
func (c *Client) CreateTweet(ctx context.Context, token, text string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("create tweet: %w", domain.ErrUnauthorized)
	}

	payload, err := json.Marshal(createTweetRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.DeliveryError{Platform: domain.PlatformTwitter, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.DeliveryError{Platform: domain.PlatformTwitter, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiErrorResponse
		_ = json.Unmarshal(body, &ae)
		cause := fmt.Errorf("API error: %s", string(body))
		if ae.Title != "" {
			cause = fmt.Errorf("API error %s: %s", ae.Title, ae.Detail)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			cause = fmt.Errorf("%w: %w", domain.ErrCredentialsInvalid, cause)
		}
		return "", &domain.DeliveryError{Platform: domain.PlatformTwitter, StatusCode: resp.StatusCode, Err: cause}
	}

	var out createTweetResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// The tweet may already be live.
		return "", &domain.DeliveryError{Platform: domain.PlatformTwitter, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return out.Data.ID, nil
}

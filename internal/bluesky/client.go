package bluesky

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

const defaultPDS = "https://bsky.social"

// Client is a minimal AT Protocol API client for creating post records. It
// holds no session state; callers pass a Session to each authenticated call.
type Client struct {
	pds        string
	httpClient *http.Client
}

// Session is an authenticated session returned by CreateSession.
type Session struct {
	AccessJwt string
	DID       string
	Handle    string
}

// NewClient creates a new AT Protocol client. If pds is empty, it defaults to
// https://bsky.social. timeout bounds every request.
func NewClient(pds string, timeout time.Duration) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		pds: pds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateSession authenticates with the PDS. Use an App Password, not your
// account password.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "", "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{AccessJwt: resp.AccessJwt, DID: resp.DID, Handle: resp.Handle}, nil
}

// CreateRecord writes a record into the session owner's repo via
// com.atproto.repo.createRecord and returns its strong ref.
func (c *Client) CreateRecord(ctx context.Context, sess *Session, collection string, record any) (StrongRef, error) {
	if sess == nil || sess.AccessJwt == "" {
		return StrongRef{}, fmt.Errorf("create record: %w", domain.ErrUnauthorized)
	}

	body := createRecordRequest{
		Repo:       sess.DID,
		Collection: collection,
		Record:     record,
	}

	var ref StrongRef
	if err := c.post(ctx, sess.AccessJwt, "/xrpc/com.atproto.repo.createRecord", body, &ref); err != nil {
		return StrongRef{}, fmt.Errorf("create record: %w", err)
	}
	return ref, nil
}

func (c *Client) post(ctx context.Context, token, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.DeliveryError{Platform: domain.PlatformBluesky, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.DeliveryError{Platform: domain.PlatformBluesky, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			// The record may already be live.
			return &domain.DeliveryError{Platform: domain.PlatformBluesky, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
		}
	}

	return nil
}

// apiError converts a non-2xx XRPC response into a DeliveryError. Rejected
// or expired credentials additionally match domain.ErrCredentialsInvalid.
func apiError(status int, body []byte) error {
	var xe xrpcError
	_ = json.Unmarshal(body, &xe)

	cause := fmt.Errorf("API error: %s", string(body))
	if xe.Error != "" {
		cause = fmt.Errorf("API error %s: %s", xe.Error, xe.Message)
	}

	switch {
	case status == http.StatusUnauthorized,
		xe.Error == "ExpiredToken",
		xe.Error == "InvalidToken",
		xe.Error == "AuthenticationRequired":
		cause = fmt.Errorf("%w: %w", domain.ErrCredentialsInvalid, cause)
	}
	return &domain.DeliveryError{Platform: domain.PlatformBluesky, StatusCode: status, Err: cause}
}

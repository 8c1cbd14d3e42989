// Package graph pulls source workbooks from a OneDrive / SharePoint folder
// through the Microsoft Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// downloadChunkSize bounds the copy buffer used when streaming a file.
const downloadChunkSize = 32 * 1024

// FileEntry is one child of a drive folder listing. DownloadURL is a
// transient pre-signed URL: it must be consumed within the current run and
// is never persisted.
type FileEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
}

// Client talks to the Graph API for one pipeline run. It caches a bearer
// token in memory but never refreshes it on its own: a 401 from a later
// call means the caller should Authenticate again. Build one Client per
// run rather than sharing a process-wide instance.
type Client struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string

	// HTTPClient is used for the token exchange and folder listing.
	// Defaults to a 30s-timeout client.
	HTTPClient *http.Client

	// DownloadClient is used for streaming downloads. Kept separate so a
	// retrying HTTPClient never masks a mid-stream failure. Defaults to a
	// plain client with no overall timeout (downloads can be large).
	DownloadClient *http.Client

	// BaseURL and TokenURL exist for tests; zero values hit the real
	// Microsoft endpoints.
	BaseURL  string
	TokenURL string

	token string
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) downloadClient() *http.Client {
	if c.DownloadClient != nil {
		return c.DownloadClient
	}
	return &http.Client{}
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
}

// Authenticate exchanges the client credentials for a bearer token and
// caches it on the client. Returns *AuthError when the token endpoint
// answers non-2xx or the response carries no access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	conf := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.tokenURL(),
		Scopes:       []string{c.Scope},
	}

	// Route the grant through our HTTP client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())

	tok, err := conf.Token(ctx)
	if err != nil {
		return "", newAuthError(err)
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Reason: "token response missing access_token"}
	}

	c.token = tok.AccessToken
	return c.token, nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() { c.token = "" }

// ListFolder returns the children of a drive folder. It authenticates
// lazily when no token is cached. Non-2xx responses become *RemoteError.
func (c *Client) ListFolder(ctx context.Context, driveID, itemID string) ([]FileEntry, error) {
	if c.token == "" {
		if _, err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	url := fmt.Sprintf("%s/drives/%s/items/%s/children", c.baseURL(), driveID, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &RemoteError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(body)}
	}

	var listing struct {
		Value []FileEntry `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("decode listing: %w", err)}
	}
	return listing.Value, nil
}

// DownloadURLByName finds the first entry with an exact name match and
// returns its transient download URL. Absence is an ordinary outcome, not
// an error, so the driver can tell "nothing to do" from "something broke".
func DownloadURLByName(entries []FileEntry, name string) (string, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.DownloadURL, true
		}
	}
	return "", false
}

// StreamDownload copies the file at url into sink in bounded chunks and
// returns the byte count. Any failure — including one mid-stream — comes
// back as *DownloadError; the caller must then discard whatever reached
// the sink, since a partial file is not valid input downstream.
func (c *Client) StreamDownload(ctx context.Context, url string, sink io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &DownloadError{Err: err}
	}

	resp, err := c.downloadClient().Do(req)
	if err != nil {
		return 0, &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &DownloadError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(body))}
	}

	buf := make([]byte, downloadChunkSize)
	n, err := io.CopyBuffer(sink, resp.Body, buf)
	if err != nil {
		return n, &DownloadError{Written: n, Err: err}
	}
	return n, nil
}

// Package upstream talks to the media-generation backend: media uploads, job
// creation, task listings and the character pipeline endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/soragate/soragate/internal/proxyroute"
	"github.com/soragate/soragate/internal/store"
)

const userAgent = "Sora/1.2026.007 (Android 15; 24122RKC7C; build 2600700)"

// Client is safe for concurrent use. Each call routes through the
// credential's proxy via the resolver.
type Client struct {
	baseURL  string
	resolver *proxyroute.Resolver
	// sentinelToken, when configured, is attached to generation requests as
	// an opaque anti-bot header. The gateway does not compute it.
	sentinelToken string
	parseURL      string
	parseToken    string
}

type ClientOptions struct {
	SentinelToken string
	// ParseURL points at a resolver service that turns a published post into
	// a direct watermark-free download link. Empty = the public CDN mirror.
	ParseURL   string
	ParseToken string
}

func NewClient(baseURL string, resolver *proxyroute.Resolver, opts ClientOptions) *Client {
	return &Client{
		baseURL:       baseURL,
		resolver:      resolver,
		sentinelToken: opts.SentinelToken,
		parseURL:      opts.ParseURL,
		parseToken:    opts.ParseToken,
	}
}

func (c *Client) doJSON(ctx context.Context, cred store.Credential, method, path string, body any, sentinel bool, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req, cred, sentinel)
	return c.send(req, cred, out)
}

type filePart struct {
	field, filename, contentType string
	data                         []byte
}

func (c *Client) doMultipart(ctx context.Context, cred store.Credential, path string, file filePart, fields map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
	hdr.Set("Content-Type", file.contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := part.Write(file.data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setHeaders(req, cred, false)
	return c.send(req, cred, out)
}

func (c *Client) setHeaders(req *http.Request, cred store.Credential, sentinel bool) {
	req.Header.Set("Authorization", "Bearer "+cred.Secret)
	req.Header.Set("User-Agent", userAgent)
	if sentinel && c.sentinelToken != "" {
		req.Header.Set("openai-sentinel-token", c.sentinelToken)
	}
}

func (c *Client) send(req *http.Request, cred store.Credential, out any) error {
	resp, err := c.resolver.ClientFor(cred).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		return &BackendError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// DownloadAsset fetches an absolute URL (avatar images, cached media) through
// the credential's route.
func (c *Client) DownloadAsset(ctx context.Context, cred store.Credential, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.resolver.ClientFor(cred).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Status: resp.StatusCode, Body: resp.Status}
	}
	return io.ReadAll(resp.Body)
}

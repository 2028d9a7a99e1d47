package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0"

	// DefaultConnectTimeout bounds dialing and TLS handshake for remote images.
	DefaultConnectTimeout = 20 * time.Second
	// defaultRequestTimeout bounds the whole request including the body.
	defaultRequestTimeout = 60 * time.Second
	// maxBodyBytes caps a single fetched body.
	maxBodyBytes = 64 << 20
)

// Client fetches remote resources with a connect timeout and a browser user agent.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient returns a Client whose dialer and TLS handshake give up after
// connectTimeout (DefaultConnectTimeout when <= 0).
func NewClient(connectTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = connectTimeout
	tr.ResponseHeaderTimeout = connectTimeout
	return &Client{
		HTTP:      &http.Client{Timeout: defaultRequestTimeout, Transport: tr},
		UserAgent: defaultUserAgent,
	}
}

// Response is a fully read response body.
type Response struct {
	Body        []byte
	ContentType string
	// Ext is the file extension guessed from Content-Type, then from the URL (may be empty).
	Ext string
	// Name is the file name from Content-Disposition or the URL path, without extension.
	Name string
}

// Fetch GETs url and reads the whole body. Non-200 statuses are errors.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("download: body exceeds %d bytes", maxBodyBytes)
	}
	ct := resp.Header.Get("Content-Type")
	ext := extensionFromContentType(ct)
	if ext == "" {
		ext = extensionFromURL(url)
	}
	name := filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = filenameFromURL(url)
	}
	return &Response{Body: body, ContentType: ct, Ext: ext, Name: name}, nil
}

// Download fetches url and saves it under destDir. Filename is derived from the URL path
// or Content-Disposition; extension from Content-Type or URL. Returns the path to the saved
// file (destDir + filename). destDir is created if needed.
func (c *Client) Download(ctx context.Context, url string, destDir string) (savedPath string, err error) {
	resp, err := c.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	ext := resp.Ext
	if ext == "" {
		ext = ".bin"
	}
	name := sanitizeFilename(resp.Name)
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name = name + ext
	}
	savedPath = filepath.Join(destDir, name)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if err := os.WriteFile(savedPath, resp.Body, 0644); err != nil {
		_ = os.Remove(savedPath)
		return "", fmt.Errorf("download: %w", err)
	}
	return savedPath, nil
}

func filenameFromContentDisposition(cd string) string {
	cd = strings.TrimSpace(cd)
	// filename="..."; or filename*=UTF-8''...
	if i := strings.Index(cd, "filename*=UTF-8''"); i >= 0 {
		s := cd[i+len("filename*=UTF-8''"):]
		if j := strings.IndexAny(s, ";\r\n"); j >= 0 {
			s = s[:j]
		}
		s = strings.Trim(s, "\" ")
		return strings.TrimSuffix(s, filepath.Ext(s))
	}
	if i := strings.Index(cd, "filename="); i >= 0 {
		s := cd[i+len("filename="):]
		if j := strings.IndexAny(s, ";\r\n"); j >= 0 {
			s = s[:j]
		}
		s = strings.Trim(s, "\" ")
		return strings.TrimSuffix(s, filepath.Ext(s))
	}
	return ""
}

func extensionFromContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "bmp"):
		return ".bmp"
	case strings.Contains(ct, "tiff"):
		return ".tiff"
	}
	return ""
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".tiff": true,
}

func extensionFromURL(url string) string {
	path := url
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	ext := strings.ToLower(filepath.Ext(path))
	if imageExts[ext] {
		return ext
	}
	return ""
}

func filenameFromURL(url string) string {
	path := url
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var safeNameRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func sanitizeFilename(name string) string {
	if name == "" {
		return "download"
	}
	name = safeNameRe.ReplaceAllString(name, "_")
	if len(name) > 96 {
		name = name[:96]
	}
	return name
}

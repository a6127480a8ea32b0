// Package media resolves a generation's image reference to bytes the
// platform adapters can upload.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	ErrUnavailable = errors.New("media unavailable")
	ErrTooLarge    = errors.New("media exceeds size limit")
)

// Object is a fetched image with the metadata adapters need.
type Object struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Object, error)
}

// Router sends s3:// and bare keys to the object store and http(s) URLs to
// the HTTP fetcher.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
}

func (r *Router) Fetch(ctx context.Context, ref string) (*Object, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("%w: empty reference", ErrUnavailable)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if r.HTTP == nil {
			return nil, fmt.Errorf("%w: http fetching is not configured", ErrUnavailable)
		}
		return r.HTTP.Fetch(ctx, ref)
	default:
		if r.S3 == nil {
			return nil, fmt.Errorf("%w: no object store configured for %q", ErrUnavailable, ref)
		}
		return r.S3.Fetch(ctx, ref)
	}
}

// HTTPFetcher downloads images from public URLs. Pair it with
// NewGuardedClient unless the URLs are trusted.
type HTTPFetcher struct {
	client       *http.Client
	maxSize      int64
	allowedHosts []string
}

// NewHTTPFetcher restricts fetches to allowedHosts and their subdomains when
// any are given.
func NewHTTPFetcher(client *http.Client, maxSize int64, allowedHosts ...string) *HTTPFetcher {
	return &HTTPFetcher{client: client, maxSize: maxSize, allowedHosts: allowedHosts}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) (*Object, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkScheme(u); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !hostAllowed(u.Hostname(), f.allowedHosts) {
		return nil, fmt.Errorf("%w: %w: host %s is not in media.allowed_hosts", ErrUnavailable, ErrBlockedAddress, u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrUnavailable, ref, resp.StatusCode)
	}

	data, err := readLimited(resp.Body, f.maxSize)
	if err != nil {
		return nil, err
	}
	return Describe(data, resp.Header.Get("Content-Type")), nil
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return data, nil
}

// Describe sniffs the content type when the source did not send a useful
// one and decodes the image dimensions. Undecodable data keeps zero
// dimensions.
func Describe(data []byte, contentType string) *Object {
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	obj := &Object{Data: data, ContentType: contentType}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		obj.Width = cfg.Width
		obj.Height = cfg.Height
	}
	return obj
}

package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Image is an already fetched media attachment.
type Image struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
	AltText     string `json:"alt_text"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// PublishContent represents the content to be published
type PublishContent struct {
	Text  string `json:"text"`
	Image *Image `json:"image,omitempty"`
}

// PublishResult represents the result of a successful publish
type PublishResult struct {
	ExternalPostID string    `json:"external_post_id"`
	URL            string    `json:"url,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
}

// Publisher is the unified interface for all platform adapters. Publish
// returns either a result with a non-empty ExternalPostID or an *Error.
type Publisher interface {
	GetPlatformName() string
	SupportsMedia() bool
	Publish(ctx context.Context, content PublishContent, creds Credentials) (*PublishResult, error)
}

// Credential field names stored in the encrypted secret.
const (
	CredAccessToken = "access_token"
	CredTokenSecret = "token_secret"
	CredOAuth1Token = "oauth1_token"
	CredHandle      = "handle"
	CredAppPassword = "app_password"
	CredMemberID    = "member_id"
)

// Credentials are the decrypted fields of one owner's platform secret.
type Credentials map[string]string

// ParseCredentials decodes a stored secret. Secrets are JSON objects of
// string fields; anything else is taken as a bare access token.
func ParseCredentials(secret string) Credentials {
	trimmed := strings.TrimSpace(secret)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]string
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return Credentials(fields)
		}
	}
	return Credentials{CredAccessToken: trimmed}
}

func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Require fails with KindCredentialInvalid when any field is empty.
func (c Credentials) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if c.Get(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return NewError(KindCredentialInvalid, "missing credential fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

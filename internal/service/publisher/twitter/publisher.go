package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/service/publisher"
)

const (
	PlatformName = "twitter"

	// MaxTextLength is the weighted post limit for standard accounts; see
	// WeightedLength.
	MaxTextLength = 280
	// MaxImageSize is the v1.1 upload limit for images.
	MaxImageSize = 5 * 1024 * 1024
)

type Config struct {
	BaseURL        string
	UploadURL      string
	MediaEnabled   bool
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// TwitterPublisher posts through the v2 tweets endpoint with the user's
// OAuth2 access token. Images go through the v1.1 upload, which only accepts
// OAuth 1.0a: it needs the app's consumer keys plus the user's separate
// OAuth1 token pair, and posts go out text only without them.
type TwitterPublisher struct {
	logger *zap.Logger
	client *http.Client
	config Config
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

func NewTwitterPublisher(config Config, logger *zap.Logger) *TwitterPublisher {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &TwitterPublisher{
		logger: logger,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

func (p *TwitterPublisher) GetPlatformName() string {
	return PlatformName
}

func (p *TwitterPublisher) SupportsMedia() bool {
	return p.config.MediaEnabled && p.config.ConsumerKey != "" && p.config.ConsumerSecret != ""
}

func (p *TwitterPublisher) Publish(ctx context.Context, content publisher.PublishContent, creds publisher.Credentials) (*publisher.PublishResult, error) {
	if err := creds.Require(publisher.CredAccessToken); err != nil {
		return nil, err
	}
	if n := WeightedLength(content.Text); n > MaxTextLength {
		return nil, publisher.NewError(publisher.KindPayloadRejected, "text weighs %d characters, limit is %d", n, MaxTextLength)
	}

	payload := createTweetRequest{Text: content.Text}
	if content.Image != nil {
		mediaID, err := p.uploadImage(ctx, content.Image, creds)
		if err != nil {
			return nil, err
		}
		if mediaID != "" {
			payload.Media = &tweetMedia{MediaIDs: []string{mediaID}}
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, publisher.NewError(publisher.KindPayloadRejected, "encode tweet: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.config.BaseURL, "/")+"/2/tweets", bytes.NewReader(jsonData))
	if err != nil {
		return nil, publisher.NewError(publisher.KindNetworkError, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := publisher.BearerClient(ctx, p.client, creds.Get(publisher.CredAccessToken))
	_, body, err := publisher.Send(client, req)
	if err != nil {
		return nil, reclassify(err)
	}

	var tweetResp createTweetResponse
	if err := publisher.DecodeJSON(body, &tweetResp); err != nil {
		return nil, err
	}
	if tweetResp.Data.ID == "" {
		return nil, publisher.MissingField("data.id", body)
	}

	p.logger.Info("Tweet published",
		zap.String("tweet_id", tweetResp.Data.ID),
		zap.Bool("with_media", payload.Media != nil))

	return &publisher.PublishResult{
		ExternalPostID: tweetResp.Data.ID,
		URL:            "https://x.com/i/web/status/" + tweetResp.Data.ID,
		PublishedAt:    time.Now(),
	}, nil
}

// uploadImage returns the media id, or "" when the post should go out text
// only because media is unavailable for this account.
func (p *TwitterPublisher) uploadImage(ctx context.Context, image *publisher.Image, creds publisher.Credentials) (string, error) {
	token, tokenSecret := creds.Get(publisher.CredOAuth1Token), creds.Get(publisher.CredTokenSecret)
	if !p.SupportsMedia() || token == "" || tokenSecret == "" {
		p.logger.Warn("Media upload not available, posting text only",
			zap.Bool("media_enabled", p.SupportsMedia()),
			zap.Bool("has_oauth1_token", token != "" && tokenSecret != ""))
		return "", nil
	}
	if len(image.Data) > MaxImageSize {
		return "", publisher.NewError(publisher.KindPayloadRejected, "image is %d bytes, limit is %d", len(image.Data), MaxImageSize)
	}

	uploadURL := strings.TrimRight(p.config.UploadURL, "/") + "/1.1/media/upload.json"
	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(image.Data))
	form.Set("media_category", "tweet_image")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", publisher.NewError(publisher.KindNetworkError, "build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Form bodies are part of the OAuth1 signature base string.
	clientCtx := context.WithValue(ctx, oauth1.HTTPClient, p.client)
	client := oauth1.NewConfig(p.config.ConsumerKey, p.config.ConsumerSecret).
		Client(clientCtx, oauth1.NewToken(token, tokenSecret))
	client.Timeout = p.client.Timeout

	_, body, err := publisher.Send(client, req)
	if err != nil {
		return "", reclassify(err)
	}

	var uploadResp mediaUploadResponse
	if err := publisher.DecodeJSON(body, &uploadResp); err != nil {
		return "", err
	}
	if uploadResp.MediaIDString == "" {
		return "", publisher.MissingField("media_id_string", body)
	}

	p.logger.Debug("Media uploaded", zap.String("media_id", uploadResp.MediaIDString))
	return uploadResp.MediaIDString, nil
}

// reclassify handles the 403 responses that are content problems rather
// than revoked tokens.
func reclassify(err error) error {
	pubErr := publisher.AsError(err)
	if pubErr.Status == http.StatusForbidden && strings.Contains(strings.ToLower(pubErr.Body), "duplicate") {
		pubErr.Kind = publisher.KindPayloadRejected
	}
	return pubErr
}

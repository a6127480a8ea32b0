package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/service/publisher"
)

const (
	PlatformName = "linkedin"

	MaxTextLength = 3000

	feedshareRecipe   = "urn:li:digitalmediaRecipe:feedshare-image"
	uploadMechanismV1 = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// LinkedInPublisher creates UGC shares for a member. Images follow the
// register upload, PUT bytes, reference asset sequence.
type LinkedInPublisher struct {
	logger *zap.Logger
	client *http.Client
	config Config
}

type registerUploadRequest struct {
	RegisterUploadRequest registerUploadBody `json:"registerUploadRequest"`
}

type registerUploadBody struct {
	Recipes              []string              `json:"recipes"`
	Owner                string                `json:"owner"`
	ServiceRelationships []serviceRelationship `json:"serviceRelationships"`
}

type serviceRelationship struct {
	RelationshipType string `json:"relationshipType"`
	Identifier       string `json:"identifier"`
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism map[string]struct {
			UploadURL string `json:"uploadUrl"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

type textBlock struct {
	Text string `json:"text"`
}

type shareMedia struct {
	Status      string     `json:"status"`
	Description *textBlock `json:"description,omitempty"`
	Media       string     `json:"media"`
}

type shareContent struct {
	ShareCommentary    textBlock    `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []shareMedia `json:"media,omitempty"`
}

type ugcPost struct {
	Author          string                  `json:"author"`
	LifecycleState  string                  `json:"lifecycleState"`
	SpecificContent map[string]shareContent `json:"specificContent"`
	Visibility      map[string]string       `json:"visibility"`
}

func NewLinkedInPublisher(config Config, logger *zap.Logger) *LinkedInPublisher {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &LinkedInPublisher{
		logger: logger,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

func (p *LinkedInPublisher) GetPlatformName() string {
	return PlatformName
}

func (p *LinkedInPublisher) SupportsMedia() bool {
	return true
}

func (p *LinkedInPublisher) Publish(ctx context.Context, content publisher.PublishContent, creds publisher.Credentials) (*publisher.PublishResult, error) {
	if err := creds.Require(publisher.CredAccessToken, publisher.CredMemberID); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(content.Text); n > MaxTextLength {
		return nil, publisher.NewError(publisher.KindPayloadRejected, "text is %d characters, limit is %d", n, MaxTextLength)
	}

	author := memberURN(creds.Get(publisher.CredMemberID))
	client := publisher.BearerClient(ctx, p.client, creds.Get(publisher.CredAccessToken))

	share := shareContent{
		ShareCommentary:    textBlock{Text: content.Text},
		ShareMediaCategory: "NONE",
	}

	if content.Image != nil {
		asset, err := p.uploadImage(ctx, client, author, content.Image)
		if err != nil {
			return nil, err
		}
		media := shareMedia{Status: "READY", Media: asset}
		if content.Image.AltText != "" {
			media.Description = &textBlock{Text: content.Image.AltText}
		}
		share.ShareMediaCategory = "IMAGE"
		share.Media = []shareMedia{media}
	}

	post := ugcPost{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]shareContent{"com.linkedin.ugc.ShareContent": share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	resp, body, err := p.postJSON(ctx, client, "/v2/ugcPosts", post)
	if err != nil {
		return nil, err
	}

	postID := resp.Header.Get("X-RestLi-Id")
	if postID == "" {
		var created struct {
			ID string `json:"id"`
		}
		if err := publisher.DecodeJSON(body, &created); err != nil {
			return nil, err
		}
		postID = created.ID
	}
	if postID == "" {
		return nil, publisher.MissingField("id", body)
	}

	p.logger.Info("LinkedIn share created",
		zap.String("post_id", postID),
		zap.Bool("with_media", content.Image != nil))

	return &publisher.PublishResult{
		ExternalPostID: postID,
		URL:            "https://www.linkedin.com/feed/update/" + postID,
		PublishedAt:    time.Now(),
	}, nil
}

// uploadImage registers an upload, PUTs the bytes and returns the asset urn.
func (p *LinkedInPublisher) uploadImage(ctx context.Context, client *http.Client, author string, image *publisher.Image) (string, error) {
	_, body, err := p.postJSON(ctx, client, "/v2/assets?action=registerUpload", registerUploadRequest{
		RegisterUploadRequest: registerUploadBody{
			Recipes: []string{feedshareRecipe},
			Owner:   author,
			ServiceRelationships: []serviceRelationship{{
				RelationshipType: "OWNER",
				Identifier:       "urn:li:userGeneratedContent",
			}},
		},
	})
	if err != nil {
		return "", err
	}

	var registered registerUploadResponse
	if err := publisher.DecodeJSON(body, &registered); err != nil {
		return "", err
	}
	uploadURL := registered.Value.UploadMechanism[uploadMechanismV1].UploadURL
	if registered.Value.Asset == "" || uploadURL == "" {
		return "", publisher.MissingField("upload url or asset", body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(image.Data))
	if err != nil {
		return "", publisher.NewError(publisher.KindNetworkError, "build upload request: %v", err)
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	if _, _, err := publisher.Send(client, req); err != nil {
		return "", err
	}

	p.logger.Debug("LinkedIn image uploaded", zap.String("asset", registered.Value.Asset))
	return registered.Value.Asset, nil
}

func (p *LinkedInPublisher) postJSON(ctx context.Context, client *http.Client, path string, payload any) (*http.Response, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, publisher.NewError(publisher.KindPayloadRejected, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, publisher.NewError(publisher.KindNetworkError, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	return publisher.Send(client, req)
}

func memberURN(memberID string) string {
	if strings.HasPrefix(memberID, "urn:li:") {
		return memberID
	}
	return "urn:li:person:" + memberID
}

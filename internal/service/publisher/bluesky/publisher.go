package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/service/publisher"
)

const (
	PlatformName = "bluesky"

	MaxTextLength = 300
	// MaxImageSize is the blob limit for post images.
	MaxImageSize = 1000000

	postCollection = "app.bsky.feed.post"
	userAgent      = "airlume"
)

type Config struct {
	ServiceURL string
	Timeout    time.Duration
}

// BlueskyPublisher logs in with the handle and app password on every
// publish, optionally uploads a blob, then creates the post record.
type BlueskyPublisher struct {
	logger *zap.Logger
	client *http.Client
	config Config
}

func NewBlueskyPublisher(config Config, logger *zap.Logger) *BlueskyPublisher {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	config.ServiceURL = strings.TrimRight(config.ServiceURL, "/")
	return &BlueskyPublisher{
		logger: logger,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

func (p *BlueskyPublisher) GetPlatformName() string {
	return PlatformName
}

func (p *BlueskyPublisher) SupportsMedia() bool {
	return true
}

func (p *BlueskyPublisher) xrpcClient() *xrpc.Client {
	ua := userAgent
	return &xrpc.Client{
		Client:    p.client,
		Host:      p.config.ServiceURL,
		UserAgent: &ua,
	}
}

func (p *BlueskyPublisher) Publish(ctx context.Context, content publisher.PublishContent, creds publisher.Credentials) (*publisher.PublishResult, error) {
	if err := creds.Require(publisher.CredHandle, publisher.CredAppPassword); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(content.Text); n > MaxTextLength {
		return nil, publisher.NewError(publisher.KindPayloadRejected, "text is %d characters, limit is %d", n, MaxTextLength)
	}
	if content.Image != nil && len(content.Image.Data) > MaxImageSize {
		return nil, publisher.NewError(publisher.KindPayloadRejected, "image is %d bytes, limit is %d", len(content.Image.Data), MaxImageSize)
	}

	client := p.xrpcClient()
	sess, err := comatproto.ServerCreateSession(ctx, client, &comatproto.ServerCreateSession_Input{
		Identifier: creds.Get(publisher.CredHandle),
		Password:   creds.Get(publisher.CredAppPassword),
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if sess.AccessJwt == "" || sess.Did == "" {
		return nil, publisher.MissingField("accessJwt", marshalBody(sess))
	}
	client.Auth = &xrpc.AuthInfo{AccessJwt: sess.AccessJwt, Did: sess.Did, Handle: sess.Handle}

	post := &appbsky.FeedPost{
		Text:      content.Text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if content.Image != nil {
		blob, err := p.uploadBlob(ctx, client, content.Image)
		if err != nil {
			return nil, err
		}
		image := &appbsky.EmbedImages_Image{Alt: content.Image.AltText, Image: blob}
		if content.Image.Width > 0 && content.Image.Height > 0 {
			image.AspectRatio = &appbsky.EmbedImages_AspectRatio{
				Width:  int64(content.Image.Width),
				Height: int64(content.Image.Height),
			}
		}
		post.Embed = &appbsky.FeedPost_Embed{
			EmbedImages: &appbsky.EmbedImages{Images: []*appbsky.EmbedImages_Image{image}},
		}
	}

	created, err := comatproto.RepoCreateRecord(ctx, client, &comatproto.RepoCreateRecord_Input{
		Repo:       sess.Did,
		Collection: postCollection,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if created.Uri == "" {
		return nil, publisher.MissingField("uri", marshalBody(created))
	}

	p.logger.Info("Bluesky post created",
		zap.String("uri", created.Uri),
		zap.Bool("with_media", post.Embed != nil))

	return &publisher.PublishResult{
		ExternalPostID: created.Uri,
		URL:            postURL(sess.Handle, created.Uri),
		PublishedAt:    time.Now(),
	}, nil
}

func (p *BlueskyPublisher) uploadBlob(ctx context.Context, client *xrpc.Client, image *publisher.Image) (*lexutil.LexBlob, error) {
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// The generated call sends */*; the PDS records whatever type it is told.
	upload := *client
	upload.Headers = map[string]string{"Content-Type": contentType}

	out, err := comatproto.RepoUploadBlob(ctx, &upload, bytes.NewReader(image.Data))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if out.Blob == nil {
		return nil, publisher.MissingField("blob", marshalBody(out))
	}
	return out.Blob, nil
}

// classify maps XRPC failures onto the publish taxonomy. Expired sessions
// come back as 400 with an error name rather than a 401.
func classify(ctx context.Context, err error) error {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		if ctx.Err() != nil {
			return publisher.AsError(ctx.Err())
		}
		if strings.HasPrefix(err.Error(), "decoding xrpc response") {
			return &publisher.Error{Kind: publisher.KindUnknownPlatformResponse, Message: err.Error()}
		}
		return publisher.NewError(publisher.KindNetworkError, "%v", err)
	}

	var body []byte
	var xrpcErr *xrpc.XRPCError
	if errors.As(xe.Wrapped, &xrpcErr) {
		body = marshalBody(xrpcErr)
	} else if xe.Wrapped != nil {
		body = []byte(xe.Wrapped.Error())
	}

	pubErr := publisher.ClassifyResponse(&http.Response{StatusCode: xe.StatusCode, Header: http.Header{}}, body)
	if xe.IsThrottled() && xe.Ratelimit != nil {
		if wait := time.Until(xe.Ratelimit.Reset); wait > 0 {
			pubErr.RetryAfter = wait
		}
	}

	if xrpcErr != nil && xe.StatusCode == http.StatusBadRequest {
		switch xrpcErr.ErrStr {
		case "ExpiredToken", "InvalidToken", "AuthenticationRequired", "AccountTakedown":
			pubErr.Kind = publisher.KindAuthExpired
		case "RateLimitExceeded":
			pubErr.Kind = publisher.KindRateLimited
		}
	}
	return pubErr
}

func marshalBody(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// postURL builds the public link from at://did/app.bsky.feed.post/rkey.
func postURL(handle, uri string) string {
	idx := strings.LastIndex(uri, "/")
	if handle == "" || idx < 0 {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + uri[idx+1:]
}

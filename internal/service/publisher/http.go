package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxResponseSize caps how much of a platform response is read.
const maxResponseSize = 1 << 20

// BearerClient wraps base so every request carries the access token.
func BearerClient(ctx context.Context, base *http.Client, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = base.Timeout
	return client
}

// Send executes req and returns the response with its body read. Transport
// failures and non-2xx statuses are returned as *Error.
func Send(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, nil, AsError(req.Context().Err())
		}
		return nil, nil, NewError(KindNetworkError, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, NewError(KindNetworkError, "read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, body, ClassifyResponse(resp, body)
	}
	return resp, body, nil
}

// DecodeJSON unmarshals a success body. A body that does not parse is an
// unknown platform response and keeps the raw text.
func DecodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{
			Kind:    KindUnknownPlatformResponse,
			Message: "unparseable response: " + err.Error(),
			Body:    string(body),
		}
	}
	return nil
}

// MissingField reports a success response that lacks a required field.
func MissingField(field string, body []byte) *Error {
	return &Error{
		Kind:    KindUnknownPlatformResponse,
		Message: "response has no " + field,
		Body:    string(body),
	}
}

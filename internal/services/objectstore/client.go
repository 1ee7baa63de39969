// Package objectstore implements the stateless download/upload client of
// spec.md §4.1, grounded in penny-vault-pv-data's use of go-resty for its
// HTTP-backed data fetchers.
package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
)

// Client is the object-store client: downloads use the public-read path,
// uploads use the authenticated path with a service credential.
type Client struct {
	http          *resty.Client
	publicBaseURL string
	authBaseURL   string
	serviceKey    string
	logger        arbor.ILogger
}

var _ interfaces.ObjectStore = (*Client)(nil)

// New creates an object-store client with a shared timeout-bound resty
// client, reused for every download and upload.
func New(publicBaseURL, authBaseURL, serviceKey string, timeout time.Duration, logger arbor.ILogger) *Client {
	return &Client{
		http:          resty.New().SetTimeout(timeout),
		publicBaseURL: publicBaseURL,
		authBaseURL:   authBaseURL,
		serviceKey:    serviceKey,
		logger:        logger,
	}
}

// Download fetches /<bucket>/<key> from the public-read path.
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", c.publicBaseURL, bucket, key)

	c.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("downloading spreadsheet")

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s/%s: %v", interfaces.ErrTransport, bucket, key, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrResourceMissing, bucket, key)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: download %s/%s returned %d", interfaces.ErrTransport, bucket, key, resp.StatusCode())
	}

	c.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(resp.Body())).Msg("download complete")
	return resp.Body(), nil
}

// Upload writes bucket/key to the authenticated object path.
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte) error {
	url := fmt.Sprintf("%s/%s/%s", c.authBaseURL, bucket, key)

	c.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("uploading spreadsheet")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.serviceKey).
		SetHeader("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet").
		SetBody(data).
		Put(url)
	if err != nil {
		return fmt.Errorf("%w: upload %s/%s: %v", interfaces.ErrTransport, bucket, key, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: upload %s/%s returned %d", interfaces.ErrTransport, bucket, key, resp.StatusCode())
	}

	c.logger.Info().Str("bucket", bucket).Str("key", key).Msg("upload complete")
	return nil
}

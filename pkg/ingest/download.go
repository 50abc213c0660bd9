package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hq-analytics/hqbridge/pkg/async"
	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

const subscribeTimeout = 30 * time.Second

// CredentialIssuer hands out the per-domain client credential HQ uses to
// authenticate webhook change deliveries back to us
type CredentialIssuer interface {
	EnsureClient(ctx context.Context, domain string) (clientID, clientSecret string, err error)
}

// Downloader pulls dataset exports out of HQ and keeps them subscribed to
// change notifications
type Downloader struct {
	client     *hq.Client
	creds      CredentialIssuer
	sharedDir  string
	webhookURL string
	tokenURL   string
}

// NewDownloader creates a downloader. webhookURL and tokenURL are the
// public URLs HQ will deliver changes to and fetch tokens from.
func NewDownloader(client *hq.Client, creds CredentialIssuer, sharedDir, webhookURL, tokenURL string) *Downloader {
	return &Downloader{
		client:     client,
		creds:      creds,
		sharedDir:  sharedDir,
		webhookURL: webhookURL,
		tokenURL:   tokenURL,
	}
}

// DownloadDatasource fetches a datasource's zipped CSV export into the
// shared directory and returns the file path and byte size. It also kicks
// off a fire-and-forget subscribe call; a failed subscription never fails
// the download.
func (d *Downloader) DownloadDatasource(ctx context.Context, sess *session.Context, domain, datasourceID string) (string, int64, error) {
	resp, err := d.client.Get(ctx, sess, hq.DatasourceExportURL(domain, datasourceID))
	if err != nil {
		return "", 0, err
	}
	if !resp.OK() {
		return "", 0, &hq.APIError{
			Op:         "download datasource export",
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}

	filename := fmt.Sprintf("%s_%s_%d.zip", domain, datasourceID, time.Now().UnixNano())
	path := filepath.Join(d.sharedDir, filename)
	if err := os.WriteFile(path, resp.Body, 0o600); err != nil {
		return "", 0, fmt.Errorf("failed to persist export: %w", err)
	}

	async.SafeGo(ctx, subscribeTimeout, "datasource subscribe", func(ctx context.Context) error {
		return d.subscribe(ctx, sess, domain, datasourceID)
	})

	return path, int64(len(resp.Body)), nil
}

// subscribe registers our webhook endpoint with HQ for the datasource,
// creating the domain's webhook client credential on first use
func (d *Downloader) subscribe(ctx context.Context, sess *session.Context, domain, datasourceID string) error {
	clientID, clientSecret, err := d.creds.EnsureClient(ctx, domain)
	if err != nil {
		return fmt.Errorf("failed to issue webhook credential: %w", err)
	}

	resp, err := d.client.PostForm(ctx, sess, hq.DatasourceSubscribeURL(domain, datasourceID), url.Values{
		"webhook_url":   {d.webhookURL},
		"token_url":     {d.tokenURL},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != 201 {
		return &hq.APIError{
			Op:         "subscribe to datasource " + datasourceID,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	return nil
}

// Unsubscribe tells HQ to stop delivering changes for a datasource
func (d *Downloader) Unsubscribe(ctx context.Context, sess *session.Context, domain, datasourceID string) error {
	resp, err := d.client.PostForm(ctx, sess, hq.DatasourceUnsubscribeURL(domain, datasourceID), url.Values{
		"webhook_url": {d.webhookURL},
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &hq.APIError{
			Op:         "unsubscribe from datasource " + datasourceID,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}

	observability.FromContext(ctx).
		WithField("hq_domain", domain).
		WithField("datasource_id", datasourceID).
		Info("unsubscribed from datasource changes")
	return nil
}

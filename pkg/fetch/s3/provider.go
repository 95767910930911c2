package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeromicro/go-zero/core/logx"

	"ohlcvd/pkg/fetch"
)

const defaultFetchTimeout = 30 * time.Second

func init() {
	fetch.RegisterProvider("s3", func(name string, cfg *fetch.ProviderConfig) (fetch.Provider, error) {
		return NewProvider(name, cfg)
	})
}

// Provider fetches daily flat files from an S3-compatible object store.
// A single object holds the whole market for one day; the parser filters it
// down to the requested ticker afterwards.
type Provider struct {
	name     string
	client   *minio.Client
	bucket   string
	template string
	timeout  time.Duration
}

// NewProvider constructs an object-store backed provider from configuration.
func NewProvider(name string, cfg *fetch.ProviderConfig) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 provider %s: endpoint is required", name)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider %s: bucket is required", name)
	}
	if cfg.PathTemplate == "" {
		return nil, fmt.Errorf("s3 provider %s: path_template is required", name)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 provider %s: init client: %w", name, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Provider{
		name:     name,
		client:   client,
		bucket:   cfg.Bucket,
		template: cfg.PathTemplate,
		timeout:  timeout,
	}, nil
}

// FetchDay downloads the daily object covering the given day. The ticker is
// only used for diagnostics; daily flat files are market-wide.
func (p *Provider) FetchDay(ctx context.Context, ticker string, day time.Time) ([]byte, error) {
	key := ObjectKey(p.template, day)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", ticker, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			logx.WithContext(ctx).Debugf("s3 %s: object missing: %s", p.name, key)
			return nil, fmt.Errorf("fetch %s %s: %w", ticker, key, fetch.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s %s: %w", ticker, key, err)
	}
	return data, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// ObjectKey renders a path template of the form
// "day_aggs/{year}/{month}/{year}-{month}-{day}.csv.gz" for the given day.
func ObjectKey(template string, day time.Time) string {
	day = day.UTC()
	r := strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", day.Year()),
		"{month}", fmt.Sprintf("%02d", int(day.Month())),
		"{day}", fmt.Sprintf("%02d", day.Day()),
	)
	return r.Replace(template)
}

// Package fetch resolves a file reference (local path, http(s) URL, or
// s3://bucket/key) to a local readable path.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tariff-works/internal/config"
)

// Fetcher downloads remote references into temp files. One instance is
// shared by all pipeline goroutines.
type Fetcher struct {
	cfg        config.Config
	httpClient *http.Client
	maxBytes   int64

	s3Once   sync.Once
	s3Client *s3.Client
	s3Err    error
}

// New builds a fetcher. The S3 client is set up lazily on first s3:// use.
func New(cfg config.Config) *Fetcher {
	return &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		maxBytes:   cfg.DownloadMaxBytes,
	}
}

// Fetch yields a local readable path for ref. cleanup removes any temp file
// created for a remote reference; it is a no-op for local paths.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	default:
		if _, err := os.Stat(ref); err != nil {
			return "", noop, fmt.Errorf("local file %s: %w", ref, err)
		}
		return ref, noop, nil
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (string, func(), error) {
	noop := func() {}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", noop, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return f.spool(resp.Body, extOf(rawURL))
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || u.Path == "" {
		return "", noop, fmt.Errorf("invalid s3 reference %q", ref)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	f.s3Once.Do(func() {
		f.s3Client, f.s3Err = newS3Client(ctx, f.cfg)
	})
	if f.s3Err != nil {
		return "", noop, f.s3Err
	}

	out, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", noop, fmt.Errorf("get s3 object %s: %w", ref, err)
	}
	defer out.Body.Close()

	return f.spool(out.Body, extOf(key))
}

// spool copies a remote body into a temp file, enforcing the size limit.
func (f *Fetcher) spool(body io.Reader, ext string) (string, func(), error) {
	noop := func() {}
	tmp, err := os.CreateTemp("", "tariff-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}

	limited := io.LimitReader(body, f.maxBytes+1)
	n, err := io.Copy(tmp, limited)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("write temp file: %w", err)
	}
	if n > f.maxBytes {
		_ = os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("file too large (>%d bytes)", f.maxBytes)
	}

	path := tmp.Name()
	return path, func() { _ = os.Remove(path) }, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

func extOf(ref string) string {
	ext := filepath.Ext(strings.SplitN(ref, "?", 2)[0])
	if ext == "" {
		ext = ".xlsx"
	}
	return ext
}

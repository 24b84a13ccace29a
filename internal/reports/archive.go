// Package reports keeps generated portfolio reports in an S3-compatible bucket.
package reports

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	keyPrefix   = "reports/"
	contentType = "text/markdown; charset=utf-8"
)

var ErrEmptyReport = errors.New("report text is empty")

// Entry is one archived report.
type Entry struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Archive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewArchive(cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("report bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Save stores text under a timestamped key and returns the key.
func (a *Archive) Save(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReport
	}
	key := ReportKey(a.now())
	body := strings.NewReader(text)
	if _, err := a.client.PutObject(ctx, a.bucket, key, body, body.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return key, nil
}

// List returns up to limit reports, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: keyPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list reports: %w", obj.Err)
		}
		entries = append(entries, Entry{Key: obj.Key, Size: obj.Size, CreatedAt: obj.LastModified})
	}
	return newestFirst(entries, limit), nil
}

// Presign returns a time-limited download URL for key.
func (a *Archive) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !strings.HasPrefix(key, keyPrefix) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid report key %q", key)
	}
	params := url.Values{}
	params.Set("response-content-type", contentType)
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign report: %w", err)
	}
	return u.String(), nil
}

// ReportKey names a report saved at t. Keys sort chronologically.
func ReportKey(t time.Time) string {
	return keyPrefix + t.UTC().Format("20060102T150405.000000000Z") + ".md"
}

func newestFirst(entries []Entry, limit int) []Entry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key > entries[j].Key })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		return []Entry{}
	}
	return entries
}

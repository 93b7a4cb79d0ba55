// Package report persists divergence reports produced by the shadow
// compare: to local disk for development, to S3 for fleet collection.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/weft-dev/weft/pkg/reconcile"
)

// DiskStore writes each report as a pretty-printed JSON file under a
// directory.
type DiskStore struct {
	dir string
}

var _ reconcile.DivergenceReporter = (*DiskStore)(nil)

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Report implements reconcile.DivergenceReporter.
func (d *DiskStore) Report(_ context.Context, rep reconcile.DivergenceReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	name := filepath.Join(d.dir, reportName(rep))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

// S3Store uploads each report as one JSON object.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ reconcile.DivergenceReporter = (*S3Store)(nil)

// NewS3Store returns a store writing to bucket under the given key
// prefix (e.g. "divergence/").
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Report implements reconcile.DivergenceReporter.
func (s *S3Store) Report(ctx context.Context, rep reconcile.DivergenceReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + reportName(rep)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"path-label": rep.PathLabel,
		},
	})
	if err != nil {
		return fmt.Errorf("report: s3 put: %w", err)
	}
	return nil
}

// Multi fans one report out to several stores, returning the first
// error after trying all of them.
type Multi []reconcile.DivergenceReporter

var _ reconcile.DivergenceReporter = (Multi)(nil)

// Report implements reconcile.DivergenceReporter.
func (m Multi) Report(ctx context.Context, rep reconcile.DivergenceReport) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, rep); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func reportName(rep reconcile.DivergenceReport) string {
	return fmt.Sprintf("divergence-%s-%d.json", rep.PathLabel, rep.At.UnixNano())
}

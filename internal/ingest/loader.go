// Package ingest populates the dataset catalog from an S3-compatible object
// store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"querydock/internal/config"
	"querydock/internal/store"
	"querydock/pkg/models"
)

// ObjectStore is the subset of the S3 API the loader needs.
type ObjectStore interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewClient creates an S3 client for the configured object store.
// Path-style addressing is required by R2-style endpoints.
func NewClient(cfg config.StorageConfig) *s3.Client {
	return s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})
}

const (
	defaultPageSize        = 1000
	defaultHeadConcurrency = 16
)

// Loader sweeps a bucket prefix, resolves per-object metadata, and inserts
// catalog rows in batches. Inserts are idempotent on checksum, so re-running
// a sweep (or resuming one with a start-after cursor) never duplicates rows.
type Loader struct {
	client          ObjectStore
	store           store.Store
	bucket          string
	pageSize        int32
	headConcurrency int
}

// NewLoader creates a Loader over the given bucket.
func NewLoader(client ObjectStore, st store.Store, bucket string) *Loader {
	return &Loader{
		client:          client,
		store:           st,
		bucket:          bucket,
		pageSize:        defaultPageSize,
		headConcurrency: defaultHeadConcurrency,
	}
}

// Summary reports what one sweep did. LastKey is the resumable cursor: pass
// it as startAfter to continue an interrupted sweep.
type Summary struct {
	Listed   int64
	Inserted int64
	Skipped  int64
	LastKey  string
}

// Run lists every object under prefix (starting after startAfter when set),
// resolves metadata, and upserts catalog rows one listing page at a time.
func (l *Loader) Run(ctx context.Context, prefix, startAfter string) (*Summary, error) {
	summary := &Summary{}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(l.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(l.pageSize),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	for {
		page, err := l.client.ListObjectsV2(ctx, input)
		if err != nil {
			return summary, fmt.Errorf("list objects: %w", err)
		}

		datasets, skipped, err := l.describeObjects(ctx, page.Contents)
		if err != nil {
			return summary, err
		}

		inserted, err := l.store.UpsertDatasets(ctx, datasets)
		if err != nil {
			return summary, fmt.Errorf("insert catalog batch: %w", err)
		}

		summary.Listed += int64(len(page.Contents))
		summary.Inserted += inserted
		summary.Skipped += skipped
		if n := len(page.Contents); n > 0 {
			summary.LastKey = aws.ToString(page.Contents[n-1].Key)
		}

		slog.Info("catalog page ingested",
			"listed", summary.Listed,
			"inserted", summary.Inserted,
			"skipped", summary.Skipped,
		)

		if !aws.ToBool(page.IsTruncated) {
			return summary, nil
		}
		input.ContinuationToken = page.NextContinuationToken
		input.StartAfter = nil
	}
}

// describeObjects resolves metadata for one listing page with bounded
// concurrency. Objects with malformed keys are skipped and logged, not fatal.
// Each goroutine writes only its own slot, so no locking is needed; skipped
// slots stay nil and are compacted after the wait.
func (l *Loader) describeObjects(ctx context.Context, objects []types.Object) ([]*models.Dataset, int64, error) {
	datasets := make([]*models.Dataset, len(objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.headConcurrency)

	for i, obj := range objects {
		g.Go(func() error {
			d, err := l.describeObject(gctx, obj)
			if err != nil {
				if errors.Is(err, errBadKey) {
					slog.Warn("skipping object with malformed key", "key", aws.ToString(obj.Key))
					return nil
				}
				return err
			}
			datasets[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := make([]*models.Dataset, 0, len(datasets))
	for _, d := range datasets {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, int64(len(objects) - len(out)), nil
}

func (l *Loader) describeObject(ctx context.Context, obj types.Object) (*models.Dataset, error) {
	key := aws.ToString(obj.Key)
	name, dataType, language, md5, err := parseObjectKey(key)
	if err != nil {
		return nil, err
	}

	head, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head object %q: %w", key, err)
	}

	return &models.Dataset{
		Name:                 name,
		Language:             language,
		DataType:             dataType,
		StorageKey:           key,
		MD5:                  md5,
		NumOfRecords:         metadataInt(head.Metadata, "num_of_records"),
		ByteSize:             aws.ToInt64(obj.Size),
		DecompressedByteSize: int64(metadataInt(head.Metadata, "decompressed_bytesize")),
		Source:               head.Metadata["source"],
	}, nil
}

var errBadKey = errors.New("malformed object key")

// parseObjectKey splits a "name/data_type/language/md5.zz" catalog key.
func parseObjectKey(key string) (name, dataType, language, md5 string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return "", "", "", "", fmt.Errorf("%w: %q", errBadKey, key)
	}
	md5 = strings.TrimSuffix(parts[3], ".zz")
	if md5 == "" {
		return "", "", "", "", fmt.Errorf("%w: %q", errBadKey, key)
	}
	return parts[0], parts[1], parts[2], md5, nil
}

func metadataInt(metadata map[string]string, key string) int {
	v, ok := metadata[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

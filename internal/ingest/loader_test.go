package ingest_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydock/internal/ingest"
	"querydock/internal/store"
	"querydock/pkg/models"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeObject struct {
	key      string
	size     int64
	metadata map[string]string
}

// fakeObjectStore serves a fixed key-sorted object listing with real
// pagination semantics (MaxKeys, StartAfter, ContinuationToken).
type fakeObjectStore struct {
	objects   []fakeObject
	headCalls int
	mu        sync.Mutex
}

func (f *fakeObjectStore) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := 0
	switch {
	case params.ContinuationToken != nil:
		start, _ = strconv.Atoi(aws.ToString(params.ContinuationToken))
	case params.StartAfter != nil:
		for i, obj := range f.objects {
			if obj.key > aws.ToString(params.StartAfter) {
				start = i
				break
			}
			start = i + 1
		}
	}

	prefix := aws.ToString(params.Prefix)
	maxKeys := int(aws.ToInt32(params.MaxKeys))

	var contents []types.Object
	i := start
	for ; i < len(f.objects) && len(contents) < maxKeys; i++ {
		obj := f.objects[i]
		if !strings.HasPrefix(obj.key, prefix) {
			continue
		}
		contents = append(contents, types.Object{
			Key:  aws.String(obj.key),
			Size: aws.Int64(obj.size),
		})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(i < len(f.objects)),
	}
	if i < len(f.objects) {
		out.NextContinuationToken = aws.String(strconv.Itoa(i))
	}
	return out, nil
}

func (f *fakeObjectStore) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	f.headCalls++
	f.mu.Unlock()

	for _, obj := range f.objects {
		if obj.key == aws.ToString(params.Key) {
			return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
		}
	}
	return nil, fmt.Errorf("no such key: %s", aws.ToString(params.Key))
}

// upsertRecorder records catalog batches and de-duplicates on MD5 like the
// real store.
type upsertRecorder struct {
	store.Store // panics on anything the loader should not call

	mu      sync.Mutex
	seen    map[string]bool
	batches [][]*models.Dataset
}

func newUpsertRecorder() *upsertRecorder {
	return &upsertRecorder{seen: make(map[string]bool)}
}

func (u *upsertRecorder) UpsertDatasets(_ context.Context, datasets []*models.Dataset) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batches = append(u.batches, datasets)
	var inserted int64
	for _, d := range datasets {
		if !u.seen[d.MD5] {
			u.seen[d.MD5] = true
			inserted++
		}
	}
	return inserted, nil
}

func catalogObjects(n int) []fakeObject {
	objects := make([]fakeObject, n)
	for i := range objects {
		objects[i] = fakeObject{
			key:  fmt.Sprintf("CC-MAIN-2024-10/text/eng/md5-%04d.zz", i),
			size: 2048,
			metadata: map[string]string{
				"num_of_records":        "500",
				"decompressed_bytesize": "8192",
				"source":                "commoncrawl",
			},
		}
	}
	return objects
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestLoaderRun_SinglePage(t *testing.T) {
	objects := catalogObjects(5)
	st := newUpsertRecorder()
	loader := ingest.NewLoader(&fakeObjectStore{objects: objects}, st, "content")

	summary, err := loader.Run(context.Background(), "CC-MAIN-2024-10/text/", "")
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Listed)
	assert.Equal(t, int64(5), summary.Inserted)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, objects[4].key, summary.LastKey)

	require.Len(t, st.batches, 1)
	d := st.batches[0][0]
	assert.Equal(t, "CC-MAIN-2024-10", d.Name)
	assert.Equal(t, "text", d.DataType)
	assert.Equal(t, "eng", d.Language)
	assert.Equal(t, "md5-0000", d.MD5)
	assert.Equal(t, objects[0].key, d.StorageKey)
	assert.Equal(t, 500, d.NumOfRecords)
	assert.Equal(t, int64(2048), d.ByteSize)
	assert.Equal(t, int64(8192), d.DecompressedByteSize)
	assert.Equal(t, "commoncrawl", d.Source)
}

func TestLoaderRun_PaginatesAcrossPages(t *testing.T) {
	objects := catalogObjects(2500)
	fake := &fakeObjectStore{objects: objects}
	st := newUpsertRecorder()
	loader := ingest.NewLoader(fake, st, "content")

	summary, err := loader.Run(context.Background(), "CC-MAIN-2024-10/text/", "")
	require.NoError(t, err)

	assert.Equal(t, int64(2500), summary.Listed)
	assert.Equal(t, int64(2500), summary.Inserted)
	assert.Len(t, st.batches, 3)
	assert.Equal(t, 2500, fake.headCalls)
}

func TestLoaderRun_ResumesAfterCursor(t *testing.T) {
	objects := catalogObjects(10)
	st := newUpsertRecorder()
	loader := ingest.NewLoader(&fakeObjectStore{objects: objects}, st, "content")

	summary, err := loader.Run(context.Background(), "CC-MAIN-2024-10/text/", objects[6].key)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Listed)
	assert.Equal(t, int64(3), summary.Inserted)
}

func TestLoaderRun_RerunIsIdempotent(t *testing.T) {
	objects := catalogObjects(10)
	st := newUpsertRecorder()
	loader := ingest.NewLoader(&fakeObjectStore{objects: objects}, st, "content")

	_, err := loader.Run(context.Background(), "CC-MAIN-2024-10/text/", "")
	require.NoError(t, err)

	summary, err := loader.Run(context.Background(), "CC-MAIN-2024-10/text/", "")
	require.NoError(t, err)

	assert.Equal(t, int64(10), summary.Listed)
	assert.Zero(t, summary.Inserted)
	assert.Len(t, st.seen, 10)
}

func TestLoaderRun_SkipsMalformedKeys(t *testing.T) {
	objects := catalogObjects(3)
	objects = append(objects, fakeObject{key: "stray-file.txt", size: 10})
	st := newUpsertRecorder()
	loader := ingest.NewLoader(&fakeObjectStore{objects: objects}, st, "content")

	summary, err := loader.Run(context.Background(), "", "")
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Listed)
	assert.Equal(t, int64(3), summary.Inserted)
	assert.Equal(t, int64(1), summary.Skipped)
}

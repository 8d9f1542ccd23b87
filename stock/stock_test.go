package stock

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

func writeUnits(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("content of "+n), 0o644))
	}
}

func TestDirectoryPoolListsOnlyTextFiles(t *testing.T) {
	dir := t.TempDir()
	writeUnits(t, dir, "b.txt", "a.txt", "notes.md", "C.TXT")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	p := &DirectoryPool{Dir: dir}
	units, err := p.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"C.TXT", "a.txt", "b.txt"}, units)

	body, err := ReadUnit(context.Background(), p, "a.txt", 1024)
	require.NoError(t, err)
	require.Equal(t, "content of a.txt", string(body))

	// listing is read-only
	units, err = p.List(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 3)
}

func TestDirectoryPoolMissingDirectory(t *testing.T) {
	p := &DirectoryPool{Dir: filepath.Join(t.TempDir(), "missing")}
	_, err := p.List(context.Background())
	require.ErrorIs(t, err, ErrSourceNotConfigured)
}

func TestDirectoryPoolEmpty(t *testing.T) {
	p := &DirectoryPool{Dir: t.TempDir()}
	units, err := p.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestDirectoryPoolPut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "netflix")
	p := &DirectoryPool{Dir: dir}

	require.NoError(t, p.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1))
	require.Error(t, p.Put(context.Background(), "image.png", strings.NewReader("x"), 1))

	units, err := p.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"escape.txt"}, units)
}

func TestStatus(t *testing.T) {
	require.Equal(t, StatusWellStocked, Status(21))
	require.Equal(t, StatusMedium, Status(20))
	require.Equal(t, StatusMedium, Status(11))
	require.Equal(t, StatusLow, Status(10))
	require.Equal(t, StatusLow, Status(1))
	require.Equal(t, StatusOutOfStock, Status(0))
}

type fakeBucket struct {
	pages   [][]string
	objects map[string]string
	puts    map[string]string
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	idx := 0
	if in.ContinuationToken != nil {
		idx = int((*in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.pages[idx] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if idx+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + idx + 1)))
	}
	return out, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.objects[aws.ToString(in.Key)]))}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	buf := new(bytes.Buffer)
	_, _ = io.Copy(buf, in.Body)
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[aws.ToString(in.Key)] = buf.String()
	return &s3.PutObjectOutput{}, nil
}

func TestBucketPoolPaginates(t *testing.T) {
	fb := &fakeBucket{
		pages: [][]string{
			{"stock/netflix/a.txt", "stock/netflix/readme.md"},
			{"stock/netflix/nested/b.txt", "stock/netflix/c.txt"},
		},
		objects: map[string]string{"stock/netflix/a.txt": "user:pass"},
	}
	reg := &Registry{Bucket: fb, DefaultBucket: "cookies"}

	pool, err := reg.PoolFor("r2:stock/netflix")
	require.NoError(t, err)

	units, err := pool.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "c.txt"}, units)

	body, err := ReadUnit(context.Background(), pool, "a.txt", 1024)
	require.NoError(t, err)
	require.Equal(t, "user:pass", string(body))

	w, ok := pool.(Writer)
	require.True(t, ok)
	require.NoError(t, w.Put(context.Background(), "d.txt", strings.NewReader("new"), 3))
	require.Equal(t, "new", fb.puts["stock/netflix/d.txt"])
}

func TestRegistryPoolFor(t *testing.T) {
	reg := &Registry{}

	p, err := reg.PoolFor("dir:/srv/stock/netflix")
	require.NoError(t, err)
	require.Equal(t, &DirectoryPool{Dir: "/srv/stock/netflix"}, p)

	p, err = reg.PoolFor("/srv/stock/spotify")
	require.NoError(t, err)
	require.Equal(t, &DirectoryPool{Dir: "/srv/stock/spotify"}, p)

	for _, src := range []string{"", "   ", "dir:", "ftp://host/x", "r2:netflix", "s3://bucket/netflix"} {
		_, err := reg.PoolFor(src)
		require.ErrorIs(t, err, ErrSourceNotConfigured, src)
	}

	reg.Bucket = &fakeBucket{}
	p, err = reg.PoolFor("s3://other/netflix")
	require.NoError(t, err)
	bp := p.(*BucketPool)
	require.Equal(t, "other", bp.Bucket)
	require.Equal(t, "netflix/", bp.Prefix)

	_, err = reg.PoolFor("r2:netflix")
	require.ErrorIs(t, err, ErrSourceNotConfigured, "no default bucket")
}

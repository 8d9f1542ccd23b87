// stock/registry.go
package stock

import (
	"fmt"
	"strings"
)

// Registry turns catalog stock_source strings into pools.
//
//	dir:<path> or <path>   directory of *.txt files
//	r2:<prefix>            prefix in the default bucket
//	s3://<bucket>/<prefix> prefix in an explicit bucket
type Registry struct {
	Bucket        BucketAPI // nil when object storage is not configured
	DefaultBucket string
}

func (r *Registry) PoolFor(source string) (Pool, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return nil, fmt.Errorf("%w: empty source", ErrSourceNotConfigured)

	case strings.HasPrefix(source, "dir:"):
		dir := strings.TrimSpace(strings.TrimPrefix(source, "dir:"))
		if dir == "" {
			return nil, fmt.Errorf("%w: empty directory", ErrSourceNotConfigured)
		}
		return &DirectoryPool{Dir: dir}, nil

	case strings.HasPrefix(source, "r2:"):
		return r.bucketPool(r.DefaultBucket, strings.TrimPrefix(source, "r2:"))

	case strings.HasPrefix(source, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(source, "s3://"), "/")
		return r.bucketPool(bucket, prefix)

	case strings.Contains(source, "://"):
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrSourceNotConfigured, source)

	default:
		return &DirectoryPool{Dir: source}, nil
	}
}

func (r *Registry) bucketPool(bucket, prefix string) (Pool, error) {
	if r.Bucket == nil {
		return nil, fmt.Errorf("%w: object storage is not configured", ErrSourceNotConfigured)
	}
	if bucket == "" {
		return nil, fmt.Errorf("%w: no bucket", ErrSourceNotConfigured)
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BucketPool{Client: r.Bucket, Bucket: bucket, Prefix: prefix}, nil
}

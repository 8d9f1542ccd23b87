// stock/bucket.go
package stock

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cookie-claim-system/utils"
)

// BucketAPI is the subset of the S3 client used by BucketPool.
type BucketAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BucketPool serves every *.txt object under Prefix in Bucket. Units are the
// object keys relative to Prefix.
type BucketPool struct {
	Client BucketAPI
	Bucket string
	Prefix string
}

func (p *BucketPool) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(p.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.Bucket),
		Prefix: aws.String(p.Prefix),
	})

	var units []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", p.Bucket, p.Prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			unit := strings.TrimPrefix(key, p.Prefix)
			if unit == "" || strings.Contains(unit, "/") || !utils.IsStockUnit(unit) {
				continue
			}
			units = append(units, unit)
		}
	}
	sort.Strings(units)
	return units, nil
}

func (p *BucketPool) Open(ctx context.Context, unit string) (io.ReadCloser, error) {
	out, err := p.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.Prefix + unit),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s%s: %w", p.Bucket, p.Prefix, unit, err)
	}
	return out.Body, nil
}

func (p *BucketPool) Put(ctx context.Context, unit string, body io.Reader, size int64) error {
	name := utils.CleanUnitName(unit)
	if name == "" || !utils.IsStockUnit(name) {
		return fmt.Errorf("invalid unit name %q", unit)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(p.Prefix + name),
		Body:        body,
		ContentType: aws.String("text/plain"),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := p.Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}

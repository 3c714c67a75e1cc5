package s3infra

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/infrastructure/awsconf"
)

// PutObjectAPI is the subset of *s3.Client the archive uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive keeps raw webhook payloads so correlation failures can be replayed.
type Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconf.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	endpoint := awsconf.Endpoint(cfg)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
			o.UsePathStyle = true
		}
	}), nil
}

// NewArchive creates an Archive writing under prefix in bucket.
func NewArchive(client PutObjectAPI, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Store writes one payload and returns its s3:// URL. Keys are partitioned
// by UTC day: <prefix>/<kind>/2006/01/02/<name>.json.
func (a *Archive) Store(ctx context.Context, kind, name string, payload []byte) (string, error) {
	key := path.Join(a.prefix, kind, a.now().UTC().Format("2006/01/02"), name+".json")
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

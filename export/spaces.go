package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nijaru/yt-mentions/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Uploader stores finished CSV exports outside the process.
type Uploader interface {
	Upload(ctx context.Context, runID string, data []byte) (string, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type SpacesUploader struct {
	client objectPutter
	bucket string
}

func NewSpacesUploader(ctx context.Context, cfg config.SpacesConfig) (*SpacesUploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, errors.Wrap(err, "loading object storage config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &SpacesUploader{client: client, bucket: cfg.Bucket}, nil
}

// Key is the object key a run's export is stored under.
func Key(runID string) string {
	return fmt.Sprintf("exports/%s.csv", runID)
}

func (s *SpacesUploader) Upload(ctx context.Context, runID string, data []byte) (string, error) {
	key := Key(runID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s", key)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"key":    key,
		"bytes":  len(data),
	}).Info("Export uploaded")
	return key, nil
}

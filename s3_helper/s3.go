package s3_helper

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()

	ErrNoBucket = utils.PermError("S3_BUCKET_NAME is not set")
)

// Client moves partitioned files between the work dir and a bucket.
type Client struct {
	Bucket string
	// Prefix is prepended to every object key
	Prefix string

	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// NewClientFromEnv builds a client from the AWS_* and S3_* env vars.
func NewClientFromEnv() (*Client, error) {
	if utils.S3_BUCKET_NAME == "" {
		return nil, ErrNoBucket
	}
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	return &Client{
		Bucket:     utils.S3_BUCKET_NAME,
		uploader:   s3manager.NewUploader(s3Session),
		downloader: s3manager.NewDownloader(s3Session),
	}, nil
}

// Key returns the object key for a file of a relation's run.
func (c *Client) Key(relation, runID, fileName string) string {
	return path.Join(c.Prefix, relation, runID, fileName)
}

func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentType *string) (*s3manager.UploadOutput, error) {
	logger := zerolog.Ctx(logger.WithContext(ctx))

	input := &s3manager.UploadInput{
		Bucket:      aws.String(c.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: contentType,
	}

	s := time.Now()
	output, err := c.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return output, nil
}

// UploadFile uploads a local partitioned file under key.
func (c *Client) UploadFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error in os.Open: %w", err)
	}
	defer f.Close()

	_, err = c.Upload(ctx, key, f, contentTypeOf(localPath))
	return err
}

func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	logger := zerolog.Ctx(logger.WithContext(ctx))

	buf := &aws.WriteAtBuffer{}

	s := time.Now()
	_, err := c.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded file from s3")

	return buf.Bytes(), nil
}

func contentTypeOf(p string) *string {
	switch filepath.Ext(p) {
	case ".parquet":
		return aws.String("application/vnd.apache.parquet")
	case ".tbl", ".csv":
		return aws.String("text/plain")
	default:
		return nil
	}
}

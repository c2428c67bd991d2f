package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// S3Destination stores archives in AWS S3 or S3-compatible storage
type S3Destination struct {
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(dest config.DestinationConfig) (*S3Destination, error) {
	if dest.Bucket == "" {
		return nil, fmt.Errorf("s3 destination requires a bucket")
	}

	awsConfig := &aws.Config{
		Region: aws.String(dest.Region),
	}
	if dest.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(dest.AccessKey, dest.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if dest.Endpoint != "" {
		awsConfig.Endpoint = aws.String(dest.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", dest.Bucket, dest.Region)

	return &S3Destination{
		bucket:   dest.Bucket,
		prefix:   strings.Trim(dest.Path, "/"),
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (sd *S3Destination) key(filename string) string {
	if sd.prefix == "" {
		return filename
	}
	return path.Join(sd.prefix, filename)
}

// Upload streams the archive with a multipart upload
func (sd *S3Destination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.bucket, key, sizeBytes)

	_, err := sd.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(sd.bucket),
		Key:          aws.String(key),
		Body:         reader,
		ContentType:  aws.String(contentTypeForFilename(filename)),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Dest] Upload complete: %s", filename)
	return nil
}

// Delete removes an archive from S3
func (sd *S3Destination) Delete(ctx context.Context, filename string) error {
	_, err := sd.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all archives under the destination prefix
func (sd *S3Destination) List(ctx context.Context) ([]BackupFile, error) {
	prefix := sd.prefix
	if prefix != "" {
		prefix += "/"
	}

	var files []BackupFile
	err := sd.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			// skip anything nested below the prefix
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") || !isArchiveName(path.Base(key)) {
				continue
			}
			files = append(files, BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	sortNewestFirst(files)
	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

// Close is a no-op; the SDK manages its own connections
func (sd *S3Destination) Close() error {
	return nil
}

func contentTypeForFilename(filename string) string {
	if strings.HasSuffix(filename, ".tar") {
		return "application/x-tar"
	}
	return "application/gzip"
}

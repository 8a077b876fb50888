package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/deckdock/romcache/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// S3Config is a configuration for S3Client
type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// Validate validates S3Config
func (config *S3Config) Validate() error {
	if len(config.Bucket) == 0 {
		return xerrors.Errorf("s3 bucket is not given")
	}

	if len(config.AccessKey) > 0 && len(config.SecretKey) == 0 {
		return xerrors.Errorf("s3 secret key is not given")
	}
	return nil
}

// S3Client implements Client over an S3-compatible object store (AWS S3, MinIO)
type S3Client struct {
	config  *S3Config
	mapping *PathMapping
	client  *s3.Client
}

// NewS3Client creates Client using S3Client
func NewS3Client(ctx context.Context, config *S3Config, mountRoot string) (Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to validate s3 config: %w", err)
	}

	region := config.Region
	if len(region) == 0 {
		region = "us-east-1"
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if len(config.AccessKey) > 0 {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, xerrors.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if len(config.Endpoint) > 0 {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.PathStyle
	})

	return &S3Client{
		config:  config,
		mapping: NewPathMapping(mountRoot, strings.Trim(config.Prefix, "/")),
		client:  client,
	}, nil
}

// Release releases resources
func (client *S3Client) Release() {
}

// GetName returns client name
func (client *S3Client) GetName() string {
	return "s3://" + client.config.Bucket
}

func isS3NotFound(err error) bool {
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

func (client *S3Client) head(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	key, err := client.mapping.GetObjectKey(p)
	if err != nil {
		return nil, err
	}

	output, err := client.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(client.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, xerrors.Errorf("failed to find object %s: %w", key, fs.ErrNotExist)
		}
		return nil, types.NewUnreachableError(p, err)
	}
	return output, nil
}

// Exists checks existence of an object
func (client *S3Client) Exists(ctx context.Context, p string) (bool, error) {
	_, err := client.head(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the size of an object
func (client *S3Client) Size(ctx context.Context, p string) (int64, error) {
	output, err := client.head(ctx, p)
	if err != nil {
		return 0, err
	}

	return aws.ToInt64(output.ContentLength), nil
}

// List lists object names directly under the prefix of a directory
func (client *S3Client) List(ctx context.Context, dirPath string) ([]string, error) {
	prefix, err := client.mapping.GetObjectKey(dirPath)
	if err != nil {
		return nil, err
	}

	if len(prefix) > 0 && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(client.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(client.config.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	names := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, types.NewUnreachableError(dirPath, err)
		}

		for _, object := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			if len(name) > 0 {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (client *S3Client) copyTo(ctx context.Context, p string, writer io.Writer) error {
	key, err := client.mapping.GetObjectKey(p)
	if err != nil {
		return err
	}

	output, err := client.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(client.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return xerrors.Errorf("failed to find object %s: %w", key, fs.ErrNotExist)
		}
		return types.NewUnreachableError(p, err)
	}
	defer output.Body.Close()

	_, err = io.Copy(writer, output.Body)
	if err != nil {
		return types.NewUnreachableError(p, err)
	}
	return nil
}

// ReadLines reads text lines of an object
func (client *S3Client) ReadLines(ctx context.Context, p string) ([]string, error) {
	buffer := &bytes.Buffer{}
	err := client.copyTo(ctx, p, buffer)
	if err != nil {
		return nil, err
	}
	return splitLines(buffer.Bytes()), nil
}

// Transfer downloads an object to the local destination path
func (client *S3Client) Transfer(ctx context.Context, srcPath string, dstPath string) error {
	logger := log.WithFields(log.Fields{
		"package":  "remote",
		"struct":   "S3Client",
		"function": "Transfer",
	})

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %w", dstPath, err)
	}

	logger.Debugf("Downloading %s to %s", srcPath, dstPath)
	err = client.copyTo(ctx, srcPath, dst)
	if err != nil {
		dst.Close()
		return xerrors.Errorf("failed to transfer %s: %w", srcPath, err)
	}

	err = dst.Close()
	if err != nil {
		return xerrors.Errorf("failed to close %s: %w", dstPath, err)
	}
	return nil
}

package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"srcsnap/internal/snap"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // base endpoint for S3-compatible servers
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps blobs as objects named <prefix><hash> in one bucket.
type S3Store struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader *manager.Uploader
}

// NewS3Store creates a store from the default AWS configuration chain,
// overridden by any fields set in opts.
func NewS3Store(ctx context.Context, name string, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return newS3StoreWithClient(name, opts.Bucket, opts.Prefix, client), nil
}

func newS3StoreWithClient(name, bucket, prefix string, client s3API) *S3Store {
	return &S3Store{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (s *S3Store) Name() string { return s.name }

func (s *S3Store) key(ptr snap.Pointer) (string, error) {
	if !snap.ValidHash(string(ptr)) {
		return "", fmt.Errorf("invalid pointer %q", ptr)
	}
	return s.prefix + string(ptr), nil
}

// Put uploads data unless an object with the same key already exists.
func (s *S3Store) Put(ctx context.Context, hash string, data []byte) (snap.Pointer, error) {
	ptr := snap.PointerFor(hash)
	key, err := s.key(ptr)
	if err != nil {
		return "", err
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", snap.BackendError("put", s.name, err)
	}
	if exists {
		return ptr, nil
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", snap.BackendError("put", s.name, fmt.Errorf("uploading %s: %w", key, err))
	}
	return ptr, nil
}

func (s *S3Store) Get(ctx context.Context, ptr snap.Pointer) ([]byte, error) {
	key, err := s.key(ptr)
	if err != nil {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get", Path: string(ptr), Backend: s.name, Err: err}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get", Path: string(ptr), Backend: s.name}
		}
		return nil, snap.BackendError("get", s.name, fmt.Errorf("getting %s: %w", key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, snap.BackendError("get", s.name, fmt.Errorf("reading %s: %w", key, err))
	}
	return data, nil
}

// Delete removes the object. S3 deletes are silent about missing keys, so
// existence is checked first.
func (s *S3Store) Delete(ctx context.Context, ptr snap.Pointer) (bool, error) {
	key, err := s.key(ptr)
	if err != nil {
		return false, nil
	}
	exists, err := s.exists(ctx, key)
	if err != nil {
		return false, snap.BackendError("delete", s.name, err)
	}
	if !exists {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, snap.BackendError("delete", s.name, fmt.Errorf("deleting %s: %w", key, err))
	}
	return true, nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", key, err)
}

// isNotFound recognises missing-object errors from AWS and from
// S3-compatible servers that only set the error code.
func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Compile-time check that S3Store implements snap.ContentStore interface
var _ snap.ContentStore = (*S3Store)(nil)

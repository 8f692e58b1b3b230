package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint       string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey      string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey      string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Secure         bool   `yaml:"secure" env:"MINIO_SECURE"`
	SnapshotBucket string `yaml:"snapshot_bucket" env:"MINIO_SNAPSHOT_BUCKET"`
}

type Client struct {
	client         *minio.Client
	snapshotBucket string

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinioClient(cfg Config) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create MinIO client")
	}

	bucket := cfg.SnapshotBucket
	if bucket == "" {
		bucket = "snapshots"
	}
	return &Client{client: client, snapshotBucket: bucket}, nil
}

func (c *Client) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	}
	return nil
}

// SplitSource turns a video source URL such as http://minio:9000/videos/cam-1
// into a bucket and an object prefix.
func SplitSource(source string) (bucket, prefix string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", errors.Wrapf(err, "parse video source %q", source)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", errors.Errorf("video source %q must be <endpoint>/<bucket>/<prefix>", source)
	}
	return parts[0], parts[1], nil
}

// FrameSource lists the frames under the source prefix, in key order. The
// objects themselves are fetched one at a time by Next.
func (c *Client) FrameSource(ctx context.Context, source string) (*ObjectSource, error) {
	bucket, prefix, err := SplitSource(source)
	if err != nil {
		return nil, err
	}

	var keys []string
	for object := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, errors.Wrap(object.Err, "error listing objects")
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}
	sort.Strings(keys)

	return &ObjectSource{client: c.client, bucket: bucket, keys: keys}, nil
}

// ObjectSource replays stored frames as if they came from a camera.
type ObjectSource struct {
	client *minio.Client
	bucket string
	keys   []string
	next   int
}

func (s *ObjectSource) Len() int { return len(s.keys) }

// Next returns io.EOF after the last object.
func (s *ObjectSource) Next(ctx context.Context) ([]byte, error) {
	if s.next >= len(s.keys) {
		return nil, io.EOF
	}
	key := s.keys[s.next]
	s.next++

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return buf.Bytes(), nil
}

// SaveSnapshot stores an alert snapshot and returns its URL.
func (c *Client) SaveSnapshot(ctx context.Context, sessionID, name string, image []byte) (string, error) {
	c.bucketOnce.Do(func() {
		c.bucketErr = c.EnsureBucketExists(ctx, c.snapshotBucket)
	})
	if c.bucketErr != nil {
		return "", errors.Wrap(c.bucketErr, "bucket error")
	}

	objectPath := fmt.Sprintf("%s/%s.jpg", sessionID, name)
	_, err := c.client.PutObject(
		ctx,
		c.snapshotBucket,
		objectPath,
		bytes.NewReader(image),
		int64(len(image)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to save snapshot to S3")
	}

	return fmt.Sprintf("http://%s/%s/%s", c.client.EndpointURL().Host, c.snapshotBucket, objectPath), nil
}

package s3

import (
	"context"
	"io"
	"testing"

	"go.viam.com/test"
)

func TestSplitSource(t *testing.T) {
	bucket, prefix, err := SplitSource("http://minio:9000/videos/site-a/cam-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bucket, test.ShouldEqual, "videos")
	test.That(t, prefix, test.ShouldEqual, "site-a/cam-1")

	_, _, err = SplitSource("http://minio:9000/videos")
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = SplitSource("://bad")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestObjectSourceExhausted(t *testing.T) {
	src := &ObjectSource{}
	test.That(t, src.Len(), test.ShouldEqual, 0)
	_, err := src.Next(context.Background())
	test.That(t, err, test.ShouldEqual, io.EOF)
}

func TestNewMinioClientDefaults(t *testing.T) {
	c, err := NewMinioClient(Config{Endpoint: "localhost:9000"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.snapshotBucket, test.ShouldEqual, "snapshots")
}

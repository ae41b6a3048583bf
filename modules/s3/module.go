// Package s3 registers the "s3" executor kind: it uploads a build artifact to
// an S3-compatible object store.
//
// Inputs:
//
//	endpoint           string  required, host[:port] without scheme
//	bucket             string  required
//	source_path        string  required, local file to upload
//	object             string  object key, default the file's base name
//	region             string  default "us-east-1"
//	secure             bool    use TLS, default true
//	create_bucket      bool    create the bucket when it does not exist
//	access_key_secret  string  secret name, default "AWS_ACCESS_KEY_ID"
//	secret_key_secret  string  secret name, default "AWS_SECRET_ACCESS_KEY"
package s3

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
)

// Kind is the executor kind this module registers.
const Kind = "s3"

const (
	defaultRegion       = "us-east-1"
	defaultAccessSecret = "AWS_ACCESS_KEY_ID"
	defaultSecretSecret = "AWS_SECRET_ACCESS_KEY"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the executor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Kind, executor.Func(execute))
}

// upload is the decoded configuration of one execution.
type upload struct {
	Endpoint     string
	Bucket       string
	SourcePath   string
	Object       string
	Region       string
	Secure       bool
	CreateBucket bool
	AccessKey    string
	SecretKey    string
}

func decodeUpload(task *executor.Task) (*upload, error) {
	u := &upload{Region: defaultRegion, Secure: true}
	for name, dst := range map[string]*string{
		"endpoint":    &u.Endpoint,
		"bucket":      &u.Bucket,
		"source_path": &u.SourcePath,
	} {
		v, ok := task.Inputs.String(name)
		if !ok || v == "" {
			return nil, fmt.Errorf("input '%s' is required", name)
		}
		*dst = v
	}
	u.Object, _ = task.Inputs.String("object")
	if u.Object == "" {
		u.Object = filepath.Base(u.SourcePath)
	}
	if r, ok := task.Inputs.String("region"); ok && r != "" {
		u.Region = r
	}
	if secure, ok := task.Inputs.Bool("secure"); ok {
		u.Secure = secure
	}
	u.CreateBucket, _ = task.Inputs.Bool("create_bucket")

	accessName, secretName := defaultAccessSecret, defaultSecretSecret
	if n, ok := task.Inputs.String("access_key_secret"); ok && n != "" {
		accessName = n
	}
	if n, ok := task.Inputs.String("secret_key_secret"); ok && n != "" {
		secretName = n
	}
	var ok bool
	if u.AccessKey, ok = task.Secrets.Lookup(accessName); !ok {
		return nil, fmt.Errorf("secret '%s' was not requested by the stage", accessName)
	}
	if u.SecretKey, ok = task.Secrets.Lookup(secretName); !ok {
		return nil, fmt.Errorf("secret '%s' was not requested by the stage", secretName)
	}
	return u, nil
}

func execute(ctx context.Context, task *executor.Task) executor.Outcome {
	u, err := decodeUpload(task)
	if err != nil {
		return executor.Failed(err.Error())
	}
	logger := ctxlog.FromContext(ctx).With("executor", Kind, "bucket", u.Bucket, "object", u.Object)

	stat, err := os.Stat(u.SourcePath)
	if err != nil {
		return executor.Failed(fmt.Sprintf("failed to stat source file '%s': %v", u.SourcePath, err))
	}
	if stat.IsDir() {
		return executor.Failed(fmt.Sprintf("source '%s' is a directory", u.SourcePath))
	}

	client, err := minio.New(u.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(u.AccessKey, u.SecretKey, ""),
		Secure: u.Secure,
		Region: u.Region,
	})
	if err != nil {
		return executor.Failed(fmt.Sprintf("failed to create S3 client: %v", err))
	}

	if u.CreateBucket {
		exists, err := client.BucketExists(ctx, u.Bucket)
		if err != nil {
			return executor.Failed(fmt.Sprintf("failed to check bucket '%s': %v", u.Bucket, err))
		}
		if !exists {
			logger.Info("Creating bucket", "region", u.Region)
			if err := client.MakeBucket(ctx, u.Bucket, minio.MakeBucketOptions{Region: u.Region}); err != nil {
				return executor.Failed(fmt.Sprintf("failed to create bucket '%s': %v", u.Bucket, err))
			}
		}
	}

	contentType := mime.TypeByExtension(filepath.Ext(u.SourcePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	logger.Info("Uploading file to S3", "source", u.SourcePath, "size", stat.Size(), "contentType", contentType)

	info, err := client.FPutObject(ctx, u.Bucket, u.Object, u.SourcePath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return executor.Failed(fmt.Sprintf("S3 upload failed: %v", err))
	}
	logger.Info("Successfully uploaded file", "etag", info.ETag)
	return executor.Succeeded(fmt.Sprintf("uploaded %d bytes to s3://%s/%s", info.Size, u.Bucket, u.Object))
}

// s3.go: Read-only S3 key set backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/agilira/keyczar"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
)

// S3Config locates a key set stored as "<prefix>/meta" and "<prefix>/<version>"
// objects in a bucket.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional, for S3-compatible services

	// Static credentials; both empty uses the SDK's default chain.
	AccessKey string
	SecretKey string
}

// S3Reader reads a key set from S3 or a compatible object store.
type S3Reader struct {
	client s3iface.S3API
	bucket string
	prefix string
	log    *logrus.Entry
}

// NewS3Reader creates an AWS session for cfg and returns a reader. log may be nil.
func NewS3Reader(cfg S3Config, log *logrus.Entry) (*S3Reader, error) {
	if cfg.Bucket == "" {
		return nil, newError(ErrInvalidLocation, ErrCodeLocation, "S3 bucket is required")
	}
	awsCfg := aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, "failed to create AWS session")
	}
	return NewS3ReaderWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix, log), nil
}

// NewS3ReaderWithClient returns a reader using an existing client.
func NewS3ReaderWithClient(client s3iface.S3API, bucket, prefix string, log *logrus.Entry) *S3Reader {
	return &S3Reader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    entryOrDefault(log, "s3").WithFields(logrus.Fields{"bucket": bucket, "prefix": prefix}),
	}
}

// Metadata implements keyczar.KeySetReader.
func (r *S3Reader) Metadata(ctx context.Context) (*keyczar.KeyMetadata, error) {
	data, err := r.get(ctx, MetaName)
	if err != nil {
		return nil, err
	}
	return keyczar.ParseMetadata(data)
}

// KeyData implements keyczar.KeySetReader.
func (r *S3Reader) KeyData(ctx context.Context, version int) ([]byte, error) {
	return r.get(ctx, versionName(version))
}

func (r *S3Reader) objectKey(name string) string {
	if r.prefix == "" {
		return name
	}
	return path.Join(r.prefix, name)
}

func (r *S3Reader) get(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	key := r.objectKey(name)
	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			r.log.WithField("key", key).Debug("object not found")
			return nil, newError(ErrNotFound, ErrCodeNotFound, fmt.Sprintf("s3://%s/%s not found", r.bucket, key))
		}
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeUnavailable, fmt.Sprintf("failed to get s3://%s/%s", r.bucket, key))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxEntrySize+1))
	if err != nil {
		return nil, wrapError(ErrBackendUnavailable, err, ErrCodeIO, fmt.Sprintf("failed to read s3://%s/%s", r.bucket, key))
	}
	if len(data) > maxEntrySize {
		return nil, newError(ErrBackendUnavailable, ErrCodeFormat, fmt.Sprintf("s3://%s/%s exceeds %d bytes", r.bucket, key, maxEntrySize))
	}
	r.log.WithFields(logrus.Fields{"key": key, "duration": time.Since(start)}).Debug("fetched")
	return data, nil
}

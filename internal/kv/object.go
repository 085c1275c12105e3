package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig captures configuration for the S3-compatible object
// storage backend.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore persists entries as objects in an S3-compatible bucket. Expiry
// is carried inside the stored envelope and enforced on read.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
}

// NewObjectStore initializes an object-storage backed store.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("kv objectstore: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("kv objectstore: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("kv objectstore: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("kv objectstore: secret key is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("kv objectstore: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("kv objectstore: check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("kv objectstore: bucket %q does not exist", cfg.Bucket)
	}

	return &ObjectStore{client: client, cfg: cfg}, nil
}

func (s *ObjectStore) objectName(key string) string {
	escaped := url.PathEscape(key)
	if s.cfg.Prefix == "" {
		return escaped
	}
	return s.cfg.Prefix + "/" + escaped
}

// Get implements Store.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("kv objectstore: get %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv objectstore: read %s: %w", key, err)
	}
	var env envelope
	if err = json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("kv objectstore: decode %s: %w", key, err)
	}
	if env.expired(time.Now()) {
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Put implements Store.
func (s *ObjectStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value, ExpiresAt: expiryFor(time.Now(), ttl)}
	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("kv objectstore: encode %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("kv objectstore: put %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("kv objectstore: delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *ObjectStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := s.cfg.Prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	var keys []string
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("kv objectstore: list: %w", object.Err)
		}
		name := strings.TrimPrefix(object.Key, listPrefix)
		key, errUnescape := url.PathUnescape(name)
		if errUnescape != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close implements Store.
func (s *ObjectStore) Close() error { return nil }

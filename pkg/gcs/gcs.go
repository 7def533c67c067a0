// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gcs provides wrappers around Google Cloud Storage (GCS) APIs.
// By default the package uses Application Default Credentials.
//
// See the following links for details and API reference:
// https://cloud.google.com/go/getting-started/using-cloud-storage
// https://godoc.org/cloud.google.com/go/storage
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type Client struct {
	client *storage.Client
}

// NewClient creates a client, opts are passed to the storage library
// (e.g. option.WithCredentialsFile or option.WithEndpoint).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: storageClient}, nil
}

func (client *Client) Close() error {
	return client.client.Close()
}

// Upload stores data as gcsFile (bucket/path), overwriting it.
func (client *Client) Upload(ctx context.Context, gcsFile string, data []byte) error {
	w, err := client.fileWriter(ctx, gcsFile)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %v: %w", gcsFile, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %v: %w", gcsFile, err)
	}
	return nil
}

func (client *Client) fileWriter(ctx context.Context, gcsFile string) (io.WriteCloser, error) {
	bucket, filename, err := split(gcsFile)
	if err != nil {
		return nil, err
	}
	w := client.client.Bucket(bucket).Object(filename).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w, nil
}

// Join builds a gcs file name from a bucket (possibly with a path prefix) and path elements.
func Join(bucket string, elems ...string) string {
	parts := []string{strings.Trim(strings.TrimPrefix(bucket, "gs://"), "/")}
	for _, elem := range elems {
		if elem = strings.Trim(elem, "/"); elem != "" {
			parts = append(parts, elem)
		}
	}
	return strings.Join(parts, "/")
}

func split(file string) (bucket, filename string, err error) {
	file = strings.TrimPrefix(file, "gs://")
	pos := strings.IndexByte(file, '/')
	if pos <= 0 || pos == len(file)-1 {
		return "", "", fmt.Errorf("invalid GCS file name: %v", file)
	}
	return file[:pos], file[pos+1:], nil
}

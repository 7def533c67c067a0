// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		file     string
		bucket   string
		filename string
		err      bool
	}{
		{file: "bucket/file", bucket: "bucket", filename: "file"},
		{file: "gs://bucket/dir/file", bucket: "bucket", filename: "dir/file"},
		{file: "bucket", err: true},
		{file: "/file", err: true},
		{file: "bucket/", err: true},
	}
	for _, test := range tests {
		bucket, filename, err := split(test.file)
		if test.err {
			assert.Error(t, err, test.file)
			continue
		}
		assert.NoError(t, err, test.file)
		assert.Equal(t, test.bucket, bucket, test.file)
		assert.Equal(t, test.filename, filename, test.file)
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "bucket/a/b", Join("gs://bucket/", "a", "/b/"))
	assert.Equal(t, "bucket/prefix/a", Join("bucket/prefix", "", "a"))
}

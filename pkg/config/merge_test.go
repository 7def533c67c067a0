// Copyright 2021 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinyfuzz/tinyfuzz/pkg/config"
)

func TestMergeJSONs(t *testing.T) {
	tests := []struct {
		left   string
		right  string
		result string
	}{
		{
			`{"a":1,"b":2}`,
			`{"b":3,"c":4}`,
			`{"a":1,"b":3,"c":4}`,
		},
		{
			`{"a":1,"b":{"c":{"d":"nested string","e":"another string"}}}`,
			`{"b":{"c":{"d":12345}}}`,
			`{"a":1,"b":{"c":{"d":12345,"e":"another string"}}}`,
		},
		{
			`{}`,
			`{"a":{"b":1}}`,
			`{"a":{"b":1}}`,
		},
		{
			`{"a":{"b":1}}`,
			`{"a":[1,2]}`,
			`{"a":[1,2]}`,
		},
	}
	for _, test := range tests {
		res, err := config.MergeJSONs([]byte(test.left), []byte(test.right))
		assert.NoError(t, err)
		assert.JSONEq(t, test.result, string(res))
	}
	_, err := config.MergeJSONs([]byte(`[]`), []byte(`{}`))
	assert.Error(t, err)
}

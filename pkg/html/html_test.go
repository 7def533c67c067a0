// Copyright 2023 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package html

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDropParam(t *testing.T) {
	tests := []struct {
		in    string
		key   string
		value string
		out   string
	}{
		{
			in:    `/upstream?first=a&second=b`,
			key:   `first`,
			value: ``,
			out:   `/upstream?second=b`,
		},
		{
			in:    `/upstream?first=a&first=b&second=c`,
			key:   `second`,
			value: ``,
			out:   `/upstream?first=a&first=b`,
		},
		{
			in:    `/upstream?first=a&first=b&second=c`,
			key:   `first`,
			value: ``,
			out:   `/upstream?second=c`,
		},
		{
			in:    `/upstream?first=a&first=b&second=c`,
			key:   `first`,
			value: `b`,
			out:   `/upstream?first=a&second=c`,
		},
	}

	for _, test := range tests {
		got := DropParam(test.in, test.key, test.value)
		assert.Equal(t, test.out, got)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "", formatDuration(0))
	assert.Equal(t, "5m", formatDuration(5*time.Minute+10*time.Second))
	assert.Equal(t, "2h05m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d03h", formatDuration(27*time.Hour))
	assert.Equal(t, "12d", formatDuration(12*24*time.Hour))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "100B", FormatBytes(100))
	assert.Equal(t, "20KB", FormatBytes(20<<10))
	assert.Equal(t, "11MB", FormatBytes(11<<20))
}

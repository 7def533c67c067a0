// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	sig := Hash([]byte("ba"), []byte("d"))
	assert.Equal(t, Hash([]byte("bad")), sig)
	assert.Equal(t, String([]byte("bad")), sig.String())
	assert.Len(t, sig.String(), 40)
	assert.Equal(t, sig.String()[:8], sig.Short())
	assert.NotEqual(t, Hash([]byte("bbd")), sig)
}

func TestFromString(t *testing.T) {
	sig := Hash([]byte("bad"))
	sig1, err := FromString(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, sig1)
	assert.True(t, IsSig(sig.String()))
	for _, bad := range []string{"", "zz", "abcd", sig.String() + "00", ".lock"} {
		_, err := FromString(bad)
		assert.Error(t, err, bad)
		assert.False(t, IsSig(bad), bad)
	}
}

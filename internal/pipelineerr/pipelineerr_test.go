// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipelineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnlyReaderUnavailableIsFatal(t *testing.T) {
	assert.True(t, KindReaderUnavailable.Fatal())
	for _, k := range []Kind{KindReaderTruncated, KindGeoBackendUnavailable, KindHashIO, KindDetectorFailure, KindCacheBackendFailure, KindUnknown} {
		assert.False(t, k.Fatal(), "kind %s should not be fatal", k)
	}
}

func TestKindStringMapping(t *testing.T) {
	assert.Equal(t, "ReaderUnavailable", KindReaderUnavailable.String())
	assert.Equal(t, "HashIoError", KindHashIO.String())
	assert.Equal(t, "Unknown", Kind(255).String())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := New(KindHashIO, "hashing capture.pcap", errors.New("disk read failed"))
	assert.Contains(t, err.Error(), "HashIoError")
	assert.Contains(t, err.Error(), "hashing capture.pcap")
	assert.Contains(t, err.Error(), "disk read failed")
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindCacheBackendFailure, "detail", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorsIsMatchesByKindViaSentinel(t *testing.T) {
	err := New(KindReaderTruncated, "stream ended early", nil)
	assert.True(t, errors.Is(err, Sentinel(KindReaderTruncated)))
	assert.False(t, errors.Is(err, Sentinel(KindHashIO)))
}

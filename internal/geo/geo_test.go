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

package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls     int
	locations map[string]Location
}

func (f *fakeBackend) Lookup(ip string) (Location, bool) {
	f.calls++
	loc, ok := f.locations[ip]
	return loc, ok
}

func TestCountryOfReturnsLocalForInternalAddress(t *testing.T) {
	e := NewEnricher(context.Background(), nil)
	assert.Equal(t, LocalCountry, e.CountryOf("10.0.0.5"))
}

func TestCountryOfReturnsUnknownWhenBackendNil(t *testing.T) {
	e := NewEnricher(context.Background(), nil)
	assert.Equal(t, UnknownCountry, e.CountryOf("203.0.113.1"))
}

func TestCountryOfResolvesAndCachesBackendLookup(t *testing.T) {
	backend := &fakeBackend{locations: map[string]Location{"203.0.113.1": {CountryCode: "US"}}}
	e := NewEnricher(context.Background(), backend)

	assert.Equal(t, "US", e.CountryOf("203.0.113.1"))
	assert.Equal(t, "US", e.CountryOf("203.0.113.1"))
	assert.Equal(t, 1, backend.calls, "second lookup must be served from cache")
}

func TestRiskOfDefaultsToLowOnUnresolvedAddress(t *testing.T) {
	e := NewEnricher(context.Background(), nil)
	assert.Equal(t, RiskLow, e.RiskOf("203.0.113.1"))
}

func TestRiskOfEscalatesForHighRiskCountryTable(t *testing.T) {
	backend := &fakeBackend{locations: map[string]Location{"1.2.3.4": {CountryCode: "RU"}}}
	e := NewEnricher(context.Background(), backend)
	assert.Equal(t, RiskHigh, e.RiskOf("1.2.3.4"))
}

func TestRiskOfPrefersBackendSuppliedRiskLevel(t *testing.T) {
	backend := &fakeBackend{locations: map[string]Location{"1.2.3.4": {CountryCode: "US", RiskLevel: RiskCritical}}}
	e := NewEnricher(context.Background(), backend)
	assert.Equal(t, RiskCritical, e.RiskOf("1.2.3.4"))
}

func TestIsHighRiskMatchesStaticTable(t *testing.T) {
	assert.True(t, IsHighRisk("CN"))
	assert.True(t, IsHighRisk("RU"))
	assert.False(t, IsHighRisk("US"))
}

func TestHighRiskTableEntriesAreWellFormed(t *testing.T) {
	for code, entry := range HighRiskTable {
		require.Equal(t, code, entry.CountryCode)
		assert.NotEmpty(t, entry.Reason)
		assert.NotEmpty(t, entry.KnownThreats)
	}
}

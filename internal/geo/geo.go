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

// Package geo implements the GeoEnricher of spec §4.4: resolving public IPs
// to country/risk attribution over an out-of-scope GeoIP backend, with a
// per-Enricher, idle-reaped lookup cache.
package geo

import (
	"context"
	"time"

	"github.com/pcapforensics/analyzer/internal/flowstate"
	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

// cacheIdleDeadline reaps GeoIP lookup entries that go unreferenced for this
// long, bounding the cache's footprint on a long-running trace without ever
// evicting an IP still being resolved repeatedly.
const cacheIdleDeadline = 5 * time.Minute

// RiskLevel mirrors the GeoIP contract's risk_level enum.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// LocalCountry is the sentinel country attributed to private/loopback
// addresses, which are never cross-border.
const LocalCountry = "Local"

// UnknownCountry is substituted when the backend is unavailable.
const UnknownCountry = "Unknown"

// Location is what the out-of-scope GeoIP backend returns for a resolvable IP.
type Location struct {
	CountryCode string
	CountryName string
	RiskLevel   RiskLevel
}

// Backend is the out-of-scope GeoIP collaborator contract (spec §6).
type Backend interface {
	Lookup(ip string) (Location, bool)
}

// HighRiskEntry documents why a country code is treated as high risk.
type HighRiskEntry struct {
	CountryCode  string
	Reason       string
	KnownThreats []string
}

// HighRiskTable is the static table referenced by spec §4.4.
var HighRiskTable = map[string]HighRiskEntry{
	"CN": {CountryCode: "CN", Reason: "state-sponsored APT activity", KnownThreats: []string{"APT41", "APT10"}},
	"RU": {CountryCode: "RU", Reason: "ransomware and botnet infrastructure hosting", KnownThreats: []string{"Sandworm", "FIN7"}},
	"KP": {CountryCode: "KP", Reason: "state-sponsored financial theft campaigns", KnownThreats: []string{"Lazarus Group"}},
	"IR": {CountryCode: "IR", Reason: "state-sponsored destructive attacks", KnownThreats: []string{"APT33", "APT34"}},
}

// CrossBorderFlow mirrors stats.CrossBorderFlow; kept here to avoid an
// import cycle since the enricher is what derives the per-packet labels
// stats.Compute later aggregates.
type CrossBorderFlow struct {
	SrcCountry, DstCountry string
	PacketCount, ByteCount uint64
	Protocols              []string
}

// Enricher resolves country attribution over an immutable packet vector,
// sampling and caching lookups in an idle-reaped flowstate.Table.
type Enricher struct {
	backend Backend
	cache   *flowstate.Table[string, Location]
	cancel  context.CancelFunc
}

// NewEnricher builds an Enricher whose lookup cache is reaped on
// cacheIdleDeadline until ctx is done or Close is called.
func NewEnricher(ctx context.Context, backend Backend) *Enricher {
	cacheCtx, cancel := context.WithCancel(ctx)
	return &Enricher{
		backend: backend,
		cache:   flowstate.New[string, Location](cacheCtx, cacheIdleDeadline),
		cancel:  cancel,
	}
}

// Close stops the cache's reaper goroutine. Safe to call once per Enricher.
func (e *Enricher) Close() { e.cancel() }

// CountryOf implements stats.CountryResolver.
func (e *Enricher) CountryOf(ip string) string {
	loc, ok := e.resolve(ip)
	if !ok {
		return UnknownCountry
	}
	return loc.CountryCode
}

// resolve looks up ip, substituting LocalCountry for private/loopback
// addresses and caching backend hits so a repeatedly resolved IP costs one
// backend round trip. Misses are not cached: an IP the backend cannot
// resolve is looked up again on every call.
func (e *Enricher) resolve(ip string) (Location, bool) {
	if pcaprecord.IsInternal(ip) {
		return Location{CountryCode: LocalCountry, CountryName: "Local network"}, true
	}

	if cached, ok := e.cache.Get(ip); ok {
		return cached, true
	}

	if e.backend == nil {
		return Location{}, false
	}

	loc, ok := e.backend.Lookup(ip)
	if !ok {
		return Location{}, false
	}
	e.cache.Set(ip, loc)
	return loc, true
}

// RiskOf reports the risk level attributed to ip, defaulting to RiskLow
// when the backend can't resolve it.
func (e *Enricher) RiskOf(ip string) RiskLevel {
	loc, ok := e.resolve(ip)
	if !ok {
		return RiskLow
	}
	if loc.RiskLevel != "" {
		return loc.RiskLevel
	}
	if _, highRisk := HighRiskTable[loc.CountryCode]; highRisk {
		return RiskHigh
	}
	return RiskLow
}

// IsHighRisk reports whether countryCode is in the static high-risk table.
func IsHighRisk(countryCode string) bool {
	_, ok := HighRiskTable[countryCode]
	return ok
}

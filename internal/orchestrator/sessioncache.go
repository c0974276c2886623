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

package orchestrator

import "github.com/alphadose/haxmap"

// SessionCache is the process-lifetime, write-mostly map from
// (absolute_path, content_hash) to AnalysisResult described in spec §6.
// There is no eviction and no disk persistence; entries live until the
// process exits, so this is a bare haxmap.Map rather than a flowstate.Table
// (a Table's idle reaper would be actively wrong here).
type SessionCache struct {
	m *haxmap.Map[string, *AnalysisResult]
}

func NewSessionCache() *SessionCache {
	return &SessionCache{m: haxmap.New[string, *AnalysisResult]()}
}

func sessionKey(path, contentHash string) string { return path + "#" + contentHash }

func (c *SessionCache) Get(path, contentHash string) (*AnalysisResult, bool) {
	return c.m.Get(sessionKey(path, contentHash))
}

func (c *SessionCache) Put(path, contentHash string, result *AnalysisResult) {
	c.m.Set(sessionKey(path, contentHash), result)
}

func (c *SessionCache) Len() int { return int(c.m.Len()) }

/*
Copyright 2023 Nike, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coresim

import (
	"sync"
)

type shadowRecord struct {
	document []byte
	version  int64
}

// ShadowStore holds the device shadow documents. Documents are stored and
// returned byte for byte - the store never reserializes what it accepted.
type ShadowStore struct {
	mu      sync.Mutex
	shadows map[string]*shadowRecord
}

// NewShadowStore creates an empty shadow store
func NewShadowStore() *ShadowStore {
	return &ShadowStore{
		shadows: map[string]*shadowRecord{},
	}
}

// Get returns the stored document for a thing, false when there is none
func (s *ShadowStore) Get(thingName string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.shadows[thingName]
	if !found {
		return nil, false
	}

	return record.document, true
}

// Update stores a document, bumping the shadow version, and returns the
// accepted document
func (s *ShadowStore) Update(thingName string, document []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.shadows[thingName]
	if !found {
		record = &shadowRecord{}
		s.shadows[thingName] = record
	}

	record.document = document
	record.version++

	return record.document
}

// Delete removes a thing's shadow, reporting whether one existed
func (s *ShadowStore) Delete(thingName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.shadows[thingName]
	delete(s.shadows, thingName)

	return found
}

// Version returns the current shadow version, zero when there is no shadow
func (s *ShadowStore) Version(thingName string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.shadows[thingName]
	if !found {
		return 0
	}

	return record.version
}

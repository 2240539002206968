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
	"time"
)

// CurrentVersionStage is the stage served when a lookup carries no qualifier
const CurrentVersionStage = "AWSCURRENT"

// StoredSecret is one secret version held by the store. Its JSON shape is
// what secretsmanager:GetSecretValue returns.
type StoredSecret struct {
	ARN           string   `json:"arn"`
	Name          string   `json:"name"`
	VersionID     string   `json:"versionId"`
	SecretBinary  []byte   `json:"secretBinary,omitempty"`
	SecretString  *string  `json:"secretString,omitempty"`
	VersionStages []string `json:"versionStages"`
	CreatedDate   int64    `json:"createdDate"`
}

func (s *StoredSecret) hasStage(stage string) bool {
	for _, candidate := range s.VersionStages {
		if candidate == stage {
			return true
		}
	}

	return false
}

func (s *StoredSecret) dropStage(stage string) {
	stages := s.VersionStages[:0]
	for _, candidate := range s.VersionStages {
		if candidate != stage {
			stages = append(stages, candidate)
		}
	}
	s.VersionStages = stages
}

// SecretStore holds the secrets deployed to the core. Lookups accept
// either the secret name or its full ARN.
type SecretStore struct {
	mu      sync.Mutex
	secrets map[string][]*StoredSecret
}

// NewSecretStore creates an empty secret store
func NewSecretStore() *SecretStore {
	return &SecretStore{
		secrets: map[string][]*StoredSecret{},
	}
}

// Put stores a secret version under both its name and its ARN. A missing
// created date is stamped with the current time; a version with no stages
// becomes the current one.
func (s *SecretStore) Put(secret *StoredSecret) {
	if secret.CreatedDate == 0 {
		secret.CreatedDate = time.Now().UnixMilli()
	}

	if len(secret.VersionStages) == 0 {
		secret.VersionStages = []string{CurrentVersionStage}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the current stage moves to the newest version, like a rotation does
	if secret.hasStage(CurrentVersionStage) {
		for _, previous := range s.secrets[secret.Name] {
			previous.dropStage(CurrentVersionStage)
		}
	}

	s.secrets[secret.Name] = append(s.secrets[secret.Name], secret)

	if secret.ARN != "" && secret.ARN != secret.Name {
		s.secrets[secret.ARN] = append(s.secrets[secret.ARN], secret)
	}
}

// Get resolves a secret version. With no qualifier the AWSCURRENT stage is
// served; a version ID or stage qualifier narrows the lookup. Returns false
// when nothing matches.
func (s *SecretStore) Get(secretID string, versionID *string, versionStage *string) (*StoredSecret, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, found := s.secrets[secretID]
	if !found {
		return nil, false
	}

	for _, version := range versions {
		if versionID != nil {
			if version.VersionID == *versionID {
				return version, true
			}
			continue
		}

		stage := CurrentVersionStage
		if versionStage != nil {
			stage = *versionStage
		}

		if version.hasStage(stage) {
			return version, true
		}
	}

	return nil, false
}

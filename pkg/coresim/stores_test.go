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
	"testing"

	"github.com/stretchr/testify/suite"
)

type StoresTestSuite struct {
	suite.Suite
}

func (suite *StoresTestSuite) TestShadowRoundTrip() {
	store := NewShadowStore()

	_, found := store.Get("thermostat")
	suite.Require().False(found)

	// the document must come back byte for byte, key order included
	document := []byte(`{"state":{"reported":{"b":1,"a":2}}}`)
	accepted := store.Update("thermostat", document)
	suite.Require().Equal(document, accepted)

	stored, found := store.Get("thermostat")
	suite.Require().True(found)
	suite.Require().Equal(document, stored)
	suite.Require().Equal(int64(1), store.Version("thermostat"))

	store.Update("thermostat", []byte(`{}`))
	suite.Require().Equal(int64(2), store.Version("thermostat"))

	suite.Require().True(store.Delete("thermostat"))
	suite.Require().False(store.Delete("thermostat"))

	_, found = store.Get("thermostat")
	suite.Require().False(found)
}

func (suite *StoresTestSuite) TestSecretLookupByNameAndARN() {
	store := NewSecretStore()

	secretString := "hunter2"
	store.Put(&StoredSecret{
		ARN:          "arn:aws:secretsmanager:us-west-2:123:secret:db-password",
		Name:         "db-password",
		VersionID:    "v1",
		SecretString: &secretString,
	})

	byName, found := store.Get("db-password", nil, nil)
	suite.Require().True(found)
	suite.Require().Equal("hunter2", *byName.SecretString)

	// a version with no stages becomes the current one
	suite.Require().Equal([]string{CurrentVersionStage}, byName.VersionStages)
	suite.Require().NotZero(byName.CreatedDate)

	byARN, found := store.Get("arn:aws:secretsmanager:us-west-2:123:secret:db-password", nil, nil)
	suite.Require().True(found)
	suite.Require().Equal(byName, byARN)

	_, found = store.Get("no-such-secret", nil, nil)
	suite.Require().False(found)
}

func (suite *StoresTestSuite) TestSecretVersionQualifiers() {
	store := NewSecretStore()

	oldString := "old"
	newString := "new"
	store.Put(&StoredSecret{
		Name:          "api-key",
		VersionID:     "v1",
		SecretString:  &oldString,
		VersionStages: []string{"AWSPREVIOUS"},
	})
	store.Put(&StoredSecret{
		Name:          "api-key",
		VersionID:     "v2",
		SecretString:  &newString,
		VersionStages: []string{CurrentVersionStage},
	})

	current, found := store.Get("api-key", nil, nil)
	suite.Require().True(found)
	suite.Require().Equal("new", *current.SecretString)

	versionID := "v1"
	byVersion, found := store.Get("api-key", &versionID, nil)
	suite.Require().True(found)
	suite.Require().Equal("old", *byVersion.SecretString)

	stage := "AWSPREVIOUS"
	byStage, found := store.Get("api-key", nil, &stage)
	suite.Require().True(found)
	suite.Require().Equal("old", *byStage.SecretString)

	missingVersion := "v9"
	_, found = store.Get("api-key", &missingVersion, nil)
	suite.Require().False(found)
}

func (suite *StoresTestSuite) TestSecretCurrentStageMovesToNewestVersion() {
	store := NewSecretStore()

	oldString := "old"
	newString := "new"

	// neither version names stages, so both default to the current stage
	store.Put(&StoredSecret{Name: "api-key", VersionID: "v1", SecretString: &oldString})
	store.Put(&StoredSecret{Name: "api-key", VersionID: "v2", SecretString: &newString})

	current, found := store.Get("api-key", nil, nil)
	suite.Require().True(found)
	suite.Require().Equal("v2", current.VersionID)
	suite.Require().Equal("new", *current.SecretString)

	// the older version lost the stage but stays reachable by id
	versionID := "v1"
	previous, found := store.Get("api-key", &versionID, nil)
	suite.Require().True(found)
	suite.Require().Equal("old", *previous.SecretString)
	suite.Require().NotContains(previous.VersionStages, CurrentVersionStage)
}

func TestStoresTestSuite(t *testing.T) {
	suite.Run(t, new(StoresTestSuite))
}

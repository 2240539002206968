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

package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type HelperTestSuite struct {
	suite.Suite
}

func (suite *HelperTestSuite) TestFileExists() {
	path := filepath.Join(suite.T().TempDir(), "probe")

	suite.Require().False(FileExists(path))

	suite.Require().NoError(os.WriteFile(path, []byte("x"), 0600))
	suite.Require().True(FileExists(path))
}

func (suite *HelperTestSuite) TestRetryUntilSuccessful() {
	attempts := 0

	err := RetryUntilSuccessful(time.Second, time.Millisecond, func() bool {
		attempts++
		return attempts == 3
	})
	suite.Require().NoError(err)
	suite.Require().Equal(3, attempts)

	err = RetryUntilSuccessful(10*time.Millisecond, time.Millisecond, func() bool {
		return false
	})
	suite.Require().Error(err)
}

func TestHelperTestSuite(t *testing.T) {
	suite.Run(t, new(HelperTestSuite))
}

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

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type PubSubTestSuite struct {
	suite.Suite
	logger logger.Logger
}

func (suite *PubSubTestSuite) SetupSuite() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
}

func (suite *PubSubTestSuite) TestTopicMatching() {
	for _, testCase := range []struct {
		filter  string
		topic   string
		matches bool
	}{
		{"sensors/temp", "sensors/temp", true},
		{"sensors/temp", "sensors/humidity", false},
		{"sensors/+", "sensors/temp", true},
		{"sensors/+", "sensors/temp/celsius", false},
		{"sensors/+/celsius", "sensors/temp/celsius", true},
		{"sensors/#", "sensors/temp/celsius", true},
		{"sensors/#", "sensors", false},
		{"#", "anything/at/all", true},
		{"sensors/#/celsius", "sensors/temp/celsius", false},
		{"sensors", "sensors/temp", false},
	} {
		suite.Require().Equal(testCase.matches,
			TopicMatches(testCase.filter, testCase.topic),
			"filter %s topic %s", testCase.filter, testCase.topic)
	}
}

func (suite *PubSubTestSuite) TestBestEffortSkipsFullQueues() {
	broker := NewBroker(suite.logger, 1)

	fullSubscription := broker.Subscribe("sensors/#")
	openSubscription := broker.Subscribe("sensors/temp")

	// fill the first subscriber's queue
	suite.Require().Equal(2, broker.PublishBestEffort("sensors/temp", []byte("1")))

	// drain the open subscriber so only the first is full
	<-openSubscription.Messages()

	// partial delivery still counts as delivered
	suite.Require().Equal(1, broker.PublishBestEffort("sensors/temp", []byte("2")))

	suite.Require().Equal("1", string((<-fullSubscription.Messages()).Payload))
	suite.Require().Equal("2", string((<-openSubscription.Messages()).Payload))
}

func (suite *PubSubTestSuite) TestAllOrErrorDeliversToNoneWhenAnyIsFull() {
	broker := NewBroker(suite.logger, 1)

	fullSubscription := broker.Subscribe("sensors/#")
	openSubscription := broker.Subscribe("sensors/temp")

	suite.Require().NoError(broker.PublishAllOrError("sensors/temp", []byte("1")))

	// drain only the second subscriber - the first queue stays full
	<-openSubscription.Messages()

	err := broker.PublishAllOrError("sensors/temp", []byte("2"))
	suite.Require().Error(err)

	// the subscriber with room must not have received anything
	suite.Require().Len(openSubscription.Messages(), 0)
	suite.Require().Len(fullSubscription.Messages(), 1)
}

func (suite *PubSubTestSuite) TestUnsubscribeStopsDelivery() {
	broker := NewBroker(suite.logger, 4)

	subscription := broker.Subscribe("sensors/temp")
	subscription.Unsubscribe()

	suite.Require().Equal(0, broker.PublishBestEffort("sensors/temp", []byte("1")))
}

func TestPubSubTestSuite(t *testing.T) {
	suite.Run(t, new(PubSubTestSuite))
}

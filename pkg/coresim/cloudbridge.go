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
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// CloudBridge mirrors the local broker to an upstream MQTT broker. Locally
// published messages go up; messages on the configured cloud topics come
// down as best-effort local publishes. Topics configured for the downlink
// are not mirrored back up, so a downlinked message can't loop.
type CloudBridge struct {
	logger        logger.Logger
	broker        *Broker
	configuration *CloudBridgeConfiguration

	mqttClient   mqtt.Client
	subscription *Subscription
	shutdown     chan struct{}
}

// NewCloudBridge creates a bridge to the configured upstream broker
func NewCloudBridge(parentLogger logger.Logger,
	broker *Broker,
	configuration *CloudBridgeConfiguration) (*CloudBridge, error) {

	if configuration.BrokerURL == "" {
		return nil, errors.New("Cloud bridge requires a broker URL")
	}

	bridge := &CloudBridge{
		logger:        parentLogger.GetChild("cloudbridge"),
		broker:        broker,
		configuration: configuration,
		shutdown:      make(chan struct{}),
	}

	clientID := configuration.ClientID
	if clientID == "" {
		clientID = "greengrass-coresim"
	}

	mqttClientOptions := mqtt.NewClientOptions().
		AddBroker(configuration.BrokerURL).
		SetClientID(clientID).
		SetUsername(configuration.Username).
		SetPassword(configuration.Password).
		SetAutoReconnect(true)

	bridge.mqttClient = mqtt.NewClient(mqttClientOptions)

	return bridge, nil
}

// Start connects to the upstream broker and begins mirroring
func (b *CloudBridge) Start() error {
	b.logger.InfoWith("Connecting to upstream broker",
		"brokerUrl", b.configuration.BrokerURL)

	if token := b.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "Failed to connect to upstream broker")
	}

	for _, topic := range b.configuration.Topics {
		if token := b.mqttClient.Subscribe(topic, 1, b.handleDownlink); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "Failed to subscribe to %s", topic)
		}
	}

	b.subscription = b.broker.Subscribe("#")

	go b.uplinkLoop()

	return nil
}

// Stop disconnects the bridge
func (b *CloudBridge) Stop() {
	close(b.shutdown)

	if b.subscription != nil {
		b.subscription.Unsubscribe()
	}

	b.mqttClient.Disconnect(250)
}

func (b *CloudBridge) uplinkLoop() {
	for {
		select {
		case message := <-b.subscription.Messages():
			if b.isDownlinkTopic(message.Topic) {
				continue
			}

			if token := b.mqttClient.Publish(message.Topic, 1, false, message.Payload); token.Wait() && token.Error() != nil {
				b.logger.WarnWith("Failed to publish upstream",
					"topic", message.Topic,
					"err", token.Error())
			}

		case <-b.shutdown:
			return
		}
	}
}

func (b *CloudBridge) handleDownlink(client mqtt.Client, message mqtt.Message) {
	b.broker.PublishBestEffort(message.Topic(), message.Payload())
}

func (b *CloudBridge) isDownlinkTopic(topic string) bool {
	for _, downlinkTopic := range b.configuration.Topics {
		if TopicMatches(downlinkTopic, topic) {
			return true
		}
	}

	return false
}

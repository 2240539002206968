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
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/spf13/viper"
)

// SubscriptionConfiguration routes messages published on a topic filter to
// a local function, like a deployment's subscription table
type SubscriptionConfiguration struct {
	Topic     string `json:"topic,omitempty" mapstructure:"topic"`
	TargetARN string `json:"targetArn,omitempty" mapstructure:"targetArn"`
}

// SecretConfiguration is a secret deployed to the core at startup
type SecretConfiguration struct {
	ARN           string   `json:"arn,omitempty" mapstructure:"arn"`
	Name          string   `json:"name,omitempty" mapstructure:"name"`
	VersionID     string   `json:"versionId,omitempty" mapstructure:"versionId"`
	SecretString  string   `json:"secretString,omitempty" mapstructure:"secretString"`
	VersionStages []string `json:"versionStages,omitempty" mapstructure:"versionStages"`
}

// CloudBridgeConfiguration configures the optional MQTT mirror to an
// upstream broker
type CloudBridgeConfiguration struct {
	Enabled   bool     `json:"enabled,omitempty" mapstructure:"enabled"`
	BrokerURL string   `json:"brokerUrl,omitempty" mapstructure:"brokerUrl"`
	ClientID  string   `json:"clientId,omitempty" mapstructure:"clientId"`
	Username  string   `json:"username,omitempty" mapstructure:"username"`
	Password  string   `json:"password,omitempty" mapstructure:"password"`
	Topics    []string `json:"topics,omitempty" mapstructure:"topics"`
}

// Configuration is the simulator's configuration
type Configuration struct {
	Network       string                      `json:"network,omitempty" mapstructure:"network"`
	ListenAddress string                      `json:"listenAddress,omitempty" mapstructure:"listenAddress"`
	QueueDepth    int                         `json:"queueDepth,omitempty" mapstructure:"queueDepth"`
	InvokeTimeout time.Duration               `json:"invokeTimeout,omitempty" mapstructure:"invokeTimeout"`
	Subscriptions []SubscriptionConfiguration `json:"subscriptions,omitempty" mapstructure:"subscriptions"`
	Secrets       []SecretConfiguration       `json:"secrets,omitempty" mapstructure:"secrets"`
	CloudBridge   CloudBridgeConfiguration    `json:"cloudBridge,omitempty" mapstructure:"cloudBridge"`
}

func (c *Configuration) setDefaults() {
	if c.Network == "" {
		c.Network = "unix"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = "/tmp/greengrass-core.sock"
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 16
	}
	if c.InvokeTimeout == 0 {
		c.InvokeTimeout = 30 * time.Second
	}
}

// NewConfiguration returns the default configuration
func NewConfiguration() *Configuration {
	configuration := &Configuration{}
	configuration.setDefaults()

	return configuration
}

// LoadConfiguration reads the configuration file at the given path (yaml
// or json, by extension) and applies defaults for anything unset
func LoadConfiguration(configurationPath string) (*Configuration, error) {
	configurationReader := viper.New()
	configurationReader.SetConfigFile(configurationPath)

	if err := configurationReader.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "Failed to read configuration at %s", configurationPath)
	}

	configuration := &Configuration{}

	if err := configurationReader.Unmarshal(configuration,
		viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, errors.Wrap(err, "Failed to decode configuration")
	}

	configuration.setDefaults()

	return configuration, nil
}

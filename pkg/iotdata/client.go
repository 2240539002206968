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

// Package iotdata publishes messages to topics through the local core
package iotdata

import (
	"encoding/json"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/session"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// PublishOptions configures publish behavior. One options value may be
// reused across any number of publish calls.
type PublishOptions struct {

	// QueueFullPolicy selects what happens when a subscriber queue is
	// full: best-effort keeps partial delivery a success, all-or-error
	// makes delivery atomic across all subscribers and reports the
	// throttled/again status on failure
	QueueFullPolicy wire.QueueFullPolicy
}

// Client publishes to topics
type Client struct {
	logger   logger.Logger
	sessions *session.Manager
}

// NewClient returns a publish client on top of the session manager
func NewClient(parentLogger logger.Logger, sessions *session.Manager) *Client {
	return &Client{
		logger:   parentLogger.GetChild("iotdata"),
		sessions: sessions,
	}
}

// Publish sends a payload to a topic with default options, owning the
// request handle internally
func (c *Client) Publish(topic string, payload []byte) error {
	request, err := c.sessions.Open()
	if err != nil {
		return errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	result, err := c.PublishWithOptions(request, topic, payload, nil)
	if err != nil {
		return err
	}

	return request.DrainResult(result)
}

// PublishJSON marshals a value and publishes it
func (c *Client) PublishJSON(topic string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "Failed to encode payload")
	}

	return c.Publish(topic, payload)
}

// PublishWithOptions sends a payload to a topic on a caller-owned request
// handle. The caller inspects the result status and closes the handle.
func (c *Client) PublishWithOptions(request *session.Request,
	topic string,
	payload []byte,
	options *PublishOptions) (*session.Result, error) {

	if topic == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Topic must not be empty")
	}

	c.logger.DebugWith("Publishing",
		"topic", topic,
		"payloadSize", len(payload))

	wireRequest := &wire.Request{
		Kind:    wire.KindPublish,
		Topic:   topic,
		Payload: payload,
	}

	if options != nil {
		policy := options.QueueFullPolicy
		wireRequest.QueueFullPolicy = &policy
	}

	return request.Do(wireRequest)
}

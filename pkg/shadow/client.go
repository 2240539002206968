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

// Package shadow reads and writes thing shadow documents through the local core
package shadow

import (
	"encoding/json"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/session"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Client manipulates thing shadows
type Client struct {
	logger   logger.Logger
	sessions *session.Manager
}

// NewClient returns a shadow client on top of the session manager
func NewClient(parentLogger logger.Logger, sessions *session.Manager) *Client {
	return &Client{
		logger:   parentLogger.GetChild("shadow"),
		sessions: sessions,
	}
}

// Get returns the shadow document for a thing, nil when no shadow exists
func (c *Client) Get(thingName string) ([]byte, error) {
	request, err := c.sessions.Open()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	result, err := c.GetWithRequest(request, thingName)
	if err != nil {
		return nil, err
	}

	return request.ReadDocument(result)
}

// GetJSON unmarshals the shadow document into value, reporting whether a
// document existed
func (c *Client) GetJSON(thingName string, value interface{}) (bool, error) {
	document, err := c.Get(thingName)
	if err != nil {
		return false, err
	}

	if document == nil {
		return false, nil
	}

	if err := json.Unmarshal(document, value); err != nil {
		return false, errors.Wrap(err, "Failed to parse shadow document")
	}

	return true, nil
}

// GetWithRequest fetches a shadow on a caller-owned handle, leaving the
// document readable through it
func (c *Client) GetWithRequest(request *session.Request, thingName string) (*session.Result, error) {
	if thingName == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Thing name must not be empty")
	}

	c.logger.DebugWith("Getting thing shadow", "thingName", thingName)

	return request.Do(&wire.Request{
		Kind: wire.KindShadowGet,
		Name: thingName,
	})
}

// Update stores a shadow document for a thing, returning the accepted document
func (c *Client) Update(thingName string, document []byte) ([]byte, error) {
	if thingName == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Thing name must not be empty")
	}

	request, err := c.sessions.Open()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	c.logger.DebugWith("Updating thing shadow",
		"thingName", thingName,
		"documentSize", len(document))

	result, err := request.Do(&wire.Request{
		Kind:    wire.KindShadowUpdate,
		Name:    thingName,
		Payload: document,
	})
	if err != nil {
		return nil, err
	}

	return request.ReadDocument(result)
}

// UpdateJSON marshals a value and stores it as the thing's shadow
func (c *Client) UpdateJSON(thingName string, value interface{}) ([]byte, error) {
	document, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode shadow document")
	}

	return c.Update(thingName, document)
}

// Delete removes a thing's shadow. Deleting an absent shadow is not an error.
func (c *Client) Delete(thingName string) error {
	if thingName == "" {
		return errors.Wrap(ggerrors.ErrInvalidParameter, "Thing name must not be empty")
	}

	request, err := c.sessions.Open()
	if err != nil {
		return errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	c.logger.DebugWith("Deleting thing shadow", "thingName", thingName)

	result, err := request.Do(&wire.Request{
		Kind: wire.KindShadowDelete,
		Name: thingName,
	})
	if err != nil {
		return err
	}

	return request.DrainResult(result)
}

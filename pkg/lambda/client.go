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

// Package lambda invokes other functions through the local core
package lambda

import (
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/session"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// InvokeOptions describes a single invocation. The caller retains
// ownership of the payload. Qualifier is optional - absence selects the
// unqualified function and is distinct from an empty string.
type InvokeOptions struct {
	FunctionARN   string
	Qualifier     *string
	ClientContext string
	Type          wire.InvocationType
	Payload       []byte
}

// Client invokes functions
type Client struct {
	logger   logger.Logger
	sessions *session.Manager
}

// NewClient returns an invoke client on top of the session manager
func NewClient(parentLogger logger.Logger, sessions *session.Manager) *Client {
	return &Client{
		logger:   parentLogger.GetChild("lambda"),
		sessions: sessions,
	}
}

// Invoke dispatches an invocation on a caller-owned handle. In
// request-response mode the invokee's response body becomes readable
// through the handle and the result status reflects how the invokee
// settled - success, handled-with-app-error, or unhandled.
func (c *Client) Invoke(request *session.Request, options *InvokeOptions) (*session.Result, error) {
	if options == nil || options.FunctionARN == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Function ARN must be set")
	}

	c.logger.DebugWith("Invoking function",
		"functionArn", options.FunctionARN,
		"type", options.Type,
		"payloadSize", len(options.Payload))

	return request.Do(&wire.Request{
		Kind:           wire.KindInvoke,
		FunctionARN:    options.FunctionARN,
		Qualifier:      options.Qualifier,
		ClientContext:  options.ClientContext,
		InvocationType: options.Type,
		Payload:        options.Payload,
	})
}

// InvokeSync invokes in request-response mode on an internal handle and
// returns the invokee's response body along with the result
func (c *Client) InvokeSync(options *InvokeOptions) ([]byte, *session.Result, error) {
	if options == nil {
		return nil, nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Options must be set")
	}

	options.Type = wire.InvokeRequestResponse

	request, err := c.sessions.Open()
	if err != nil {
		return nil, nil, errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	result, err := c.Invoke(request, options)
	if err != nil {
		return nil, nil, err
	}

	body, err := request.ReadAll()
	if err != nil {
		return nil, result, errors.Wrap(err, "Failed to read response")
	}

	return body, result, nil
}

// InvokeAsync fires an event invocation and returns once the core
// accepted it
func (c *Client) InvokeAsync(options *InvokeOptions) error {
	if options == nil {
		return errors.Wrap(ggerrors.ErrInvalidParameter, "Options must be set")
	}

	options.Type = wire.InvokeEvent

	request, err := c.sessions.Open()
	if err != nil {
		return errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	result, err := c.Invoke(request, options)
	if err != nil {
		return err
	}

	return request.DrainResult(result)
}

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

// Package secret retrieves secret values through the local core
package secret

import (
	"encoding/json"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/session"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Value is a retrieved secret version
type Value struct {
	ARN           string   `json:"arn"`
	Name          string   `json:"name"`
	VersionID     string   `json:"versionId"`
	SecretBinary  []byte   `json:"secretBinary,omitempty"`
	SecretString  *string  `json:"secretString,omitempty"`
	VersionStages []string `json:"versionStages"`
	CreatedDate   int64    `json:"createdDate"`
}

// GetOptions narrows which secret version to fetch. Both qualifiers are
// optional and absence is distinct from an empty string; with neither set
// the current stage is returned.
type GetOptions struct {
	VersionID    *string
	VersionStage *string
}

// Client retrieves secrets
type Client struct {
	logger   logger.Logger
	sessions *session.Manager
}

// NewClient returns a secrets client on top of the session manager
func NewClient(parentLogger logger.Logger, sessions *session.Manager) *Client {
	return &Client{
		logger:   parentLogger.GetChild("secret"),
		sessions: sessions,
	}
}

// Get returns a secret value, nil when the secret or the requested
// version does not exist
func (c *Client) Get(secretID string, options *GetOptions) (*Value, error) {
	request, err := c.sessions.Open()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open request")
	}
	defer request.Close() // nolint: errcheck

	result, err := c.GetWithRequest(request, secretID, options)
	if err != nil {
		return nil, err
	}

	document, err := request.ReadDocument(result)
	if err != nil {
		return nil, err
	}

	if document == nil {
		return nil, nil
	}

	value := &Value{}
	if err := json.Unmarshal(document, value); err != nil {
		return nil, errors.Wrap(err, "Failed to parse secret value")
	}

	return value, nil
}

// GetWithRequest fetches a secret on a caller-owned handle, leaving the
// value document readable through it
func (c *Client) GetWithRequest(request *session.Request,
	secretID string,
	options *GetOptions) (*session.Result, error) {

	if secretID == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Secret id must not be empty")
	}

	wireRequest := &wire.Request{
		Kind: wire.KindSecretGet,
		Name: secretID,
	}

	if options != nil {
		wireRequest.VersionID = options.VersionID
		wireRequest.VersionStage = options.VersionStage
	}

	c.logger.DebugWith("Getting secret value", "secretId", secretID)

	return request.Do(wireRequest)
}

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

package session

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
)

// RequestError is returned when the core classified a request as anything
// other than success. Status is the retry signal: StatusAgain means the
// caller should back off and retry - the SDK never retries on its own.
type RequestError struct {
	Status   wire.Status
	Response *wire.ErrorResponse
}

func (e *RequestError) Error() string {
	if e.Response != nil {
		return fmt.Sprintf("Request %s: %d %s", e.Status, e.Response.Code, e.Response.Message)
	}

	return fmt.Sprintf("Request %s", e.Status)
}

// UnauthorizedError is returned when the core rejects a request with a 401
// error document
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	return e.Message
}

// IsThrottled reports whether err carries the throttled/again status
func IsThrottled(err error) bool {
	requestError, ok := errors.RootCause(err).(*RequestError)
	return ok && requestError.Status == wire.StatusAgain
}

// IsUnauthorized reports whether err is a 401 rejection
func IsUnauthorized(err error) bool {
	_, ok := errors.RootCause(err).(*UnauthorizedError)
	return ok
}

// DrainResult finishes a bodyless exchange: nil when the result is
// success, the classified error otherwise. A not-found error document is
// swallowed - deleting an absent resource is not a failure.
func (r *Request) DrainResult(result *Result) error {
	if result.Status == wire.StatusSuccess {
		return nil
	}

	classified := r.classifyError(result)
	if _, isNotFound := classified.(*notFoundError); isNotFound {
		return nil
	}

	return classified
}

// ReadDocument reads a whole response document. Not-found is reported as
// (nil, nil) so absence is an answer, not an error.
func (r *Request) ReadDocument(result *Result) ([]byte, error) {
	if result.Status == wire.StatusSuccess {
		return r.ReadAll()
	}

	classified := r.classifyError(result)
	if _, isNotFound := classified.(*notFoundError); isNotFound {
		return nil, nil
	}

	return nil, classified
}

type notFoundError struct{}

func (e *notFoundError) Error() string {
	return "Not found"
}

// classifyError reads the error document carried in the body of a failed
// exchange and maps it onto the error surface
func (r *Request) classifyError(result *Result) error {
	body, err := r.ReadAll()
	if err != nil {
		return errors.Wrap(err, "Failed to read error response")
	}

	if len(body) == 0 {
		return &RequestError{Status: result.Status}
	}

	errorResponse := &wire.ErrorResponse{}
	if err := json.Unmarshal(body, errorResponse); err != nil {
		r.manager.logger.WarnWith("Failed to parse error response",
			"requestID", r.id,
			"err", err)

		return &RequestError{Status: result.Status}
	}

	switch errorResponse.Code {
	case http.StatusNotFound:
		return &notFoundError{}
	case http.StatusUnauthorized:
		return &UnauthorizedError{Message: errorResponse.Message}
	default:
		return &RequestError{
			Status:   result.Status,
			Response: errorResponse,
		}
	}
}

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

package runtime

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
)

// Context is the read-only view of one invocation, valid only for the
// duration of the handler call. The handler reads the payload through it
// and must write a response XOR an error exactly once.
type Context struct {
	runtime    *Runtime
	invocation *wire.Invocation
	payload    *bytes.Reader

	mu     sync.Mutex
	wrote  bool
	active bool
}

func newContext(r *Runtime, invocation *wire.Invocation) *Context {
	return &Context{
		runtime:    r,
		invocation: invocation,
		payload:    bytes.NewReader(invocation.Payload),
		active:     true,
	}
}

// FunctionARN returns the full ARN of the invoked function
func (c *Context) FunctionARN() string {
	return c.invocation.FunctionARN
}

// ClientContext returns the base64-encoded client context the invoker passed
func (c *Context) ClientContext() string {
	return c.invocation.ClientContext
}

// Read pulls payload bytes from the invoker, io.EOF once exhausted. Only
// valid during the handler call.
func (c *Context) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return 0, errors.Wrap(ggerrors.ErrInvalidState, "Read outside an active invocation")
	}

	return c.payload.Read(p)
}

// Payload reads the whole invocation payload
func (c *Context) Payload() ([]byte, error) {
	return io.ReadAll(c)
}

// WriteResponse writes the response to the invoker. Writing after a
// response or error was already written is an invalid-state error.
func (c *Context) WriteResponse(response []byte) error {
	return c.write(wire.StatusSuccess, response)
}

// WriteError reports an application-level error to the invoker, whose
// result status becomes handled-with-app-error instead of success
func (c *Context) WriteError(message string) error {
	body, err := json.Marshal(wire.NewErrorResponse(500, message))
	if err != nil {
		return errors.Wrap(err, "Failed to encode error response")
	}

	return c.write(wire.StatusHandled, body)
}

func (c *Context) write(status wire.Status, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return errors.Wrap(ggerrors.ErrInvalidState, "Write outside an active invocation")
	}

	if c.wrote {
		return errors.Wrap(ggerrors.ErrInvalidState, "A response was already written for this invocation")
	}

	if err := c.runtime.source.SendResult(&wire.InvocationResult{
		ID:     c.invocation.ID,
		Status: status,
		Body:   body,
	}); err != nil {
		return errors.Wrap(err, "Failed to send invocation result")
	}

	c.wrote = true

	return nil
}

// settleUnhandled closes out an invocation whose handler never wrote,
// reporting an abnormal exit. No-op when a result was already written.
func (c *Context) settleUnhandled(message string) {
	c.mu.Lock()
	alreadyWrote := c.wrote
	c.wrote = true
	c.active = false
	c.mu.Unlock()

	if alreadyWrote {
		return
	}

	if err := c.runtime.source.SendResult(&wire.InvocationResult{
		ID:     c.invocation.ID,
		Status: wire.StatusUnhandled,
		Body:   []byte(message),
	}); err != nil {
		c.runtime.logger.WarnWith("Failed to report unhandled invocation",
			"invocationID", c.invocation.ID,
			"err", err)
	}
}

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

package transport

import (
	"sync"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"
)

// Call tracks a single in-flight request. Response chunks arrive in order
// via Next; a nil chunk means the stream ended, with the error explaining
// why when it didn't end cleanly.
type Call struct {
	frames chan *wire.Response
	done   chan struct{}
	once   sync.Once

	// written exactly once before done is closed
	failed error
}

// NewCall returns an empty in-flight call. Exported so that fakes can stand
// in for the client in session and runtime tests.
func NewCall() *Call {
	return &Call{

		// a few chunks of slack so the connection reader isn't lockstepped
		// with the handle reader, while still bounding memory per call
		frames: make(chan *wire.Response, 8),
		done:   make(chan struct{}),
	}
}

// Next returns the next response chunk, blocking until one arrives or the
// call terminates. Returns (nil, nil) on clean end of stream and (nil, err)
// when the call failed.
func (c *Call) Next() (*wire.Response, error) {
	select {
	case response := <-c.frames:
		return response, nil
	case <-c.done:

		// drain chunks that were delivered before the stream ended
		select {
		case response := <-c.frames:
			return response, nil
		default:
		}

		return nil, c.failed
	}
}

// Deliver hands a response chunk to the waiting reader, terminating the
// stream after the last chunk. Blocks when the reader is behind - that
// backpressure is what keeps large responses in bounded memory.
func (c *Call) Deliver(response *wire.Response) {
	select {
	case c.frames <- response:
	case <-c.done:

		// the call was abandoned or failed, drop the chunk
		return
	}

	if response.Last {
		c.finish(nil)
	}
}

// Fail terminates the call with an error
func (c *Call) Fail(err error) {
	c.finish(err)
}

func (c *Call) finish(err error) {
	c.once.Do(func() {
		c.failed = err
		close(c.done)
	})
}

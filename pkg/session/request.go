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
	"io"
	"sync"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/transport"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/rs/xid"
)

type requestState int

const (
	stateOpen requestState = iota
	stateDraining
	stateClosed
)

// Result is the immutable outcome classification of one exchange
type Result struct {
	Status wire.Status
}

// Request is an open handle owning a stream of response bytes. It
// implements io.Reader: Read returns data until the stream is exhausted,
// then io.EOF - responses of any size can be consumed in bounded memory by
// reading repeatedly. Exactly one reader at a time.
type Request struct {
	id      string
	manager *Manager

	mu        sync.Mutex
	state     requestState
	exchange  string
	call      *transport.Call
	buffered  []byte
	exhausted bool
	result    *Result
}

// ID returns the handle identifier
func (r *Request) ID() string {
	return r.id
}

// Do dispatches a request on this handle and blocks until the core reports
// the outcome. On success the response body, if any, becomes readable
// through the handle. A handle may be reused for another exchange once the
// previous stream is exhausted or abandoned.
func (r *Request) Do(wireRequest *wire.Request) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return nil, errors.Wrap(ggerrors.ErrInvalidState, "Request handle is closed")
	}

	// abandon a previous exchange that was never drained
	if r.call != nil && !r.exhausted {
		r.manager.caller.Abandon(r.exchange)
	}

	// each exchange gets its own wire ID so the transport can tell
	// interleaved exchanges on reused handles apart. The handle goes back
	// to the open state so a failed dispatch leaves nothing readable -
	// Read on it reports invalid-state rather than touching a dead stream.
	r.exchange = xid.New().String()
	r.state = stateOpen
	r.call = nil
	r.buffered = nil
	r.exhausted = false
	r.result = nil

	wireRequest.ID = r.exchange

	call, err := r.manager.caller.Call(wireRequest)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to send request")
	}

	// the first chunk carries the error code and the result status
	first, err := call.Next()
	if err != nil {
		return nil, errors.Wrap(err, "Request failed")
	}

	if first == nil {
		return nil, errors.Wrap(ggerrors.ErrInternalFailure, "Stream ended before a result arrived")
	}

	if code := ggerrors.Code(first.Code); code != ggerrors.CodeSuccess {
		if !first.Last {
			r.manager.caller.Abandon(r.exchange)
		}

		return nil, errors.Wrapf(code.Err(), "Core rejected %s request", wireRequest.Kind)
	}

	r.state = stateDraining
	r.result = &Result{Status: first.Status}
	r.buffered = first.Body
	r.exhausted = first.Last
	if !first.Last {
		r.call = call
	}

	return r.result, nil
}

// Result returns the outcome of the last exchange, nil if none completed
func (r *Request) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result
}

// Read pulls the next response bytes into p. Returns io.EOF once the
// stream is exhausted; the handle remains closeable afterwards. Reading a
// closed handle is an invalid-state error, never a success.
func (r *Request) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return 0, errors.Wrap(ggerrors.ErrInvalidState, "Request handle is closed")
	}

	if r.state != stateDraining {
		return 0, errors.Wrap(ggerrors.ErrInvalidState, "No response to read on this handle")
	}

	for len(r.buffered) == 0 {
		if r.exhausted {
			return 0, io.EOF
		}

		chunk, err := r.call.Next()
		if err != nil {
			return 0, errors.Wrap(err, "Failed to read response chunk")
		}

		if chunk == nil {

			// stream ended without a last chunk - the call was abandoned
			// or ended early; treat as exhausted
			r.exhausted = true
			return 0, io.EOF
		}

		r.buffered = chunk.Body
		r.exhausted = chunk.Last
	}

	n := copy(p, r.buffered)
	r.buffered = r.buffered[n:]

	return n, nil
}

// ReadAll drains the remaining response body
func (r *Request) ReadAll() ([]byte, error) {
	return io.ReadAll(r)
}

// Close destroys the handle. Closing twice is an invalid-state error - a
// handle must be closed exactly once.
func (r *Request) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return errors.Wrap(ggerrors.ErrInvalidState, "Request handle is already closed")
	}

	if r.call != nil && !r.exhausted {
		r.manager.caller.Abandon(r.exchange)
	}

	r.state = stateClosed
	r.call = nil
	r.buffered = nil
	r.manager.remove(r.id)

	return nil
}

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

// Package runtime implements the lambda runtime loop: it registers the one
// live handler, dispatches inbound invocations to it and enforces the
// write-response XOR write-error contract per invocation.
package runtime

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// EventSource is what the runtime loop needs from the transport layer
type EventSource interface {

	// Invocations returns the stream of invocations pushed by the core
	Invocations() <-chan *wire.Invocation

	// SendResult reports an invocation result back to the core
	SendResult(result *wire.InvocationResult) error

	// Done is closed when the connection is terminally lost
	Done() <-chan struct{}

	// Err returns the terminal connection error, if any
	Err() error
}

// Handler is the application code invoked per inbound event
type Handler interface {
	Handle(invocationContext *Context)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(invocationContext *Context)

func (f HandlerFunc) Handle(invocationContext *Context) {
	f(invocationContext)
}

// Options configures how the runtime loop runs
type Options struct {

	// Async runs the loop on its own goroutine; the caller continues and
	// observes loop failure through Err and Done. The default blocks the
	// calling goroutine until termination.
	Async bool
}

type runtimeState int

const (
	stateReady runtimeState = iota
	stateRunning
	stateTerminating
	stateStopped
)

// Runtime dispatches invocations to the registered handler
type Runtime struct {
	logger  logger.Logger
	source  EventSource
	handler Handler

	stateMu sync.Mutex
	state   runtimeState
	loopErr error

	signals  chan os.Signal
	doneChan chan struct{}
}

// NewRuntime registers the handler. Exactly one live handler is permitted
// per runtime; starting twice is an invalid-state error.
func NewRuntime(parentLogger logger.Logger, source EventSource, handler Handler) (*Runtime, error) {
	if handler == nil {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "A handler must be registered")
	}

	return &Runtime{
		logger:   parentLogger.GetChild("runtime"),
		source:   source,
		handler:  handler,
		signals:  make(chan os.Signal, 1),
		doneChan: make(chan struct{}),
	}, nil
}

// Start runs the runtime loop. Synchronous mode blocks until the process
// is told to terminate; asynchronous mode returns immediately and the loop
// runs on a dedicated goroutine. This takes over the SIGTERM handler.
func (r *Runtime) Start(options *Options) error {
	if options == nil {
		options = &Options{}
	}

	r.stateMu.Lock()
	if r.state != stateReady {
		r.stateMu.Unlock()
		return errors.Wrap(ggerrors.ErrInvalidState, "Runtime is already started")
	}
	r.state = stateRunning
	r.stateMu.Unlock()

	signal.Notify(r.signals, syscall.SIGTERM)

	if options.Async {
		go r.runLoop() // nolint: errcheck
		return nil
	}

	return r.runLoop()
}

// Err returns the loop's terminal error. This is how an async caller
// observes a background failure such as a broker disconnect.
func (r *Runtime) Err() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	return r.loopErr
}

// Done is closed once the loop has exited
func (r *Runtime) Done() <-chan struct{} {
	return r.doneChan
}

func (r *Runtime) runLoop() error {
	defer close(r.doneChan)
	defer signal.Stop(r.signals)

	r.logger.InfoWith("Runtime started")

	for {
		select {
		case invocation := <-r.source.Invocations():
			if invocation == nil {
				continue
			}

			r.dispatch(invocation)

		case <-r.source.Done():
			err := r.source.Err()
			if err == nil {
				err = ggerrors.ErrDisconnected
			}

			r.logger.ErrorWith("Event source failed", "err", err)

			r.fail(errors.Wrap(err, "Lost connection to core"))

			return r.Err()

		case sig := <-r.signals:
			r.logger.InfoWith("Received termination signal", "signal", sig.String())

			r.stateMu.Lock()
			r.state = stateTerminating
			r.stateMu.Unlock()

			r.stop()

			return nil
		}
	}
}

// dispatch runs the handler for one invocation and settles its result
func (r *Runtime) dispatch(invocation *wire.Invocation) {
	invocationContext := newContext(r, invocation)

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorWith("Handler panicked",
				"invocationID", invocation.ID,
				"panic", recovered)

			invocationContext.settleUnhandled("Handler panicked")
			return
		}

		// the handler returned without writing either a response or an
		// error - report an abnormal exit to the invoker
		invocationContext.settleUnhandled("Handler wrote no response")
	}()

	r.logger.DebugWith("Dispatching invocation",
		"invocationID", invocation.ID,
		"functionArn", invocation.FunctionARN,
		"payloadSize", len(invocation.Payload))

	r.handler.Handle(invocationContext)
}

func (r *Runtime) fail(err error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	r.state = stateStopped
	r.loopErr = err
}

func (r *Runtime) stop() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	r.state = stateStopped
}

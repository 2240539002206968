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
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

// fakeEventSource feeds invocations and captures results
type fakeEventSource struct {
	invocations chan *wire.Invocation
	done        chan struct{}
	err         error

	mu      sync.Mutex
	results []*wire.InvocationResult
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{
		invocations: make(chan *wire.Invocation, 4),
		done:        make(chan struct{}),
	}
}

func (fs *fakeEventSource) Invocations() <-chan *wire.Invocation {
	return fs.invocations
}

func (fs *fakeEventSource) SendResult(result *wire.InvocationResult) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.results = append(fs.results, result)
	return nil
}

func (fs *fakeEventSource) Done() <-chan struct{} {
	return fs.done
}

func (fs *fakeEventSource) Err() error {
	return fs.err
}

func (fs *fakeEventSource) waitForResults(count int, timeout time.Duration) []*wire.InvocationResult {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		if len(fs.results) >= count {
			results := fs.results
			fs.mu.Unlock()
			return results
		}
		fs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}

	return nil
}

type RuntimeTestSuite struct {
	suite.Suite
	logger logger.Logger
}

func (suite *RuntimeTestSuite) SetupSuite() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
}

func (suite *RuntimeTestSuite) TestHandlerWritesResponse() {
	source := newFakeEventSource()

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {
		payload, err := invocationContext.Payload()
		suite.Require().NoError(err)
		suite.Require().NoError(invocationContext.WriteResponse(append([]byte("echo: "), payload...)))
	}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{
		ID:          "inv-1",
		FunctionARN: "arn:aws:lambda:::function:echo",
		Payload:     []byte("ping"),
	}

	results := source.waitForResults(1, time.Second)
	suite.Require().Len(results, 1)
	suite.Require().Equal(wire.StatusSuccess, results[0].Status)
	suite.Require().Equal("echo: ping", string(results[0].Body))
}

func (suite *RuntimeTestSuite) TestWriteErrorYieldsHandledStatus() {
	source := newFakeEventSource()

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {
		suite.Require().NoError(invocationContext.WriteError("bad input"))
	}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{ID: "inv-2"}

	results := source.waitForResults(1, time.Second)
	suite.Require().Len(results, 1)
	suite.Require().Equal(wire.StatusHandled, results[0].Status)

	errorResponse := &wire.ErrorResponse{}
	suite.Require().NoError(json.Unmarshal(results[0].Body, errorResponse))
	suite.Require().Equal("bad input", errorResponse.Message)
}

func (suite *RuntimeTestSuite) TestDoubleWriteIsInvalidState() {
	source := newFakeEventSource()

	var secondWriteErr error

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {
		suite.Require().NoError(invocationContext.WriteResponse([]byte("once")))
		secondWriteErr = invocationContext.WriteError("twice")
	}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{ID: "inv-3"}

	results := source.waitForResults(1, time.Second)
	suite.Require().Len(results, 1)
	suite.Require().True(ggerrors.Is(secondWriteErr, ggerrors.ErrInvalidState))
}

func (suite *RuntimeTestSuite) TestWriteOutsideInvocationIsInvalidState() {
	source := newFakeEventSource()

	var escaped *Context

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {
		escaped = invocationContext
		suite.Require().NoError(invocationContext.WriteResponse([]byte("ok")))
	}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{ID: "inv-4"}
	source.waitForResults(1, time.Second)

	// the context does not outlive its invocation
	err = escaped.WriteResponse([]byte("late"))
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidState))

	_, err = escaped.Read(make([]byte, 1))
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidState))
}

func (suite *RuntimeTestSuite) TestHandlerPanicReportsUnhandled() {
	source := newFakeEventSource()

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {
		panic("boom")
	}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{ID: "inv-5"}

	results := source.waitForResults(1, time.Second)
	suite.Require().Len(results, 1)
	suite.Require().Equal(wire.StatusUnhandled, results[0].Status)
}

func (suite *RuntimeTestSuite) TestSilentHandlerReportsUnhandled() {
	source := newFakeEventSource()

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	source.invocations <- &wire.Invocation{ID: "inv-6"}

	results := source.waitForResults(1, time.Second)
	suite.Require().Len(results, 1)
	suite.Require().Equal(wire.StatusUnhandled, results[0].Status)
}

func (suite *RuntimeTestSuite) TestSourceFailureIsObservable() {
	source := newFakeEventSource()
	source.err = ggerrors.ErrDisconnected

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	close(source.done)

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		suite.FailNow("Runtime did not observe the source failure")
	}

	suite.Require().True(ggerrors.Is(rt.Err(), ggerrors.ErrDisconnected))
}

func (suite *RuntimeTestSuite) TestSecondStartIsInvalidState() {
	source := newFakeEventSource()

	rt, err := NewRuntime(suite.logger, source, HandlerFunc(func(invocationContext *Context) {}))
	suite.Require().NoError(err)
	suite.Require().NoError(rt.Start(&Options{Async: true}))

	err = rt.Start(&Options{Async: true})
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidState))
}

func (suite *RuntimeTestSuite) TestNilHandlerIsInvalidParameter() {
	_, err := NewRuntime(suite.logger, newFakeEventSource(), nil)
	suite.Require().True(ggerrors.Is(err, ggerrors.ErrInvalidParameter))
}

func TestRuntimeTestSuite(t *testing.T) {
	suite.Run(t, new(RuntimeTestSuite))
}

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

package coresim

import (
	"sync"
	"time"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/google/uuid"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

var (

	// ErrFunctionNotFound is raised when no runtime serves the invoked ARN
	ErrFunctionNotFound = errors.New("Function not found")

	// ErrInvokeTimeout is raised when a request/response invocation is not
	// answered within the invoke timeout
	ErrInvokeTimeout = errors.New("Invocation timed out")
)

// InvocationTarget is a connected runtime that can receive invocations
type InvocationTarget interface {
	SendInvocation(invocation *wire.Invocation) error
}

// Registry tracks the connected runtimes and routes invocations to them
// by function ARN. Qualified ARNs fall back to the unqualified entry.
type Registry struct {
	logger        logger.Logger
	invokeTimeout time.Duration

	mu      sync.Mutex
	targets map[string]InvocationTarget
	pending map[string]chan *wire.InvocationResult
}

// NewRegistry creates an empty registry
func NewRegistry(parentLogger logger.Logger, invokeTimeout time.Duration) *Registry {
	if invokeTimeout == 0 {
		invokeTimeout = 30 * time.Second
	}

	return &Registry{
		logger:        parentLogger.GetChild("registry"),
		invokeTimeout: invokeTimeout,
		targets:       map[string]InvocationTarget{},
		pending:       map[string]chan *wire.InvocationResult{},
	}
}

// Register binds a runtime connection to its function ARN, replacing any
// previous connection for that ARN
func (r *Registry) Register(functionARN string, target InvocationTarget) {
	r.mu.Lock()
	r.targets[functionARN] = target
	r.mu.Unlock()

	r.logger.DebugWith("Registered runtime", "functionArn", functionARN)
}

// Registered reports whether a runtime currently serves the ARN
func (r *Registry) Registered(functionARN string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.targets[functionARN]
	return found
}

// Unregister drops a runtime connection if it is still the registered one
func (r *Registry) Unregister(functionARN string, target InvocationTarget) {
	r.mu.Lock()
	if r.targets[functionARN] == target {
		delete(r.targets, functionARN)
	}
	r.mu.Unlock()
}

// Invoke routes an invocation to the runtime serving the ARN. Event
// invocations return as soon as the invocation is handed off; request/
// response invocations wait for the runtime's result up to the invoke
// timeout.
func (r *Registry) Invoke(request *wire.Request) (*wire.InvocationResult, error) {
	functionARN := request.FunctionARN
	if request.Qualifier != nil {
		functionARN = functionARN + ":" + *request.Qualifier
	}

	r.mu.Lock()
	target, found := r.targets[functionARN]
	if !found {
		target, found = r.targets[request.FunctionARN]
	}
	r.mu.Unlock()

	if !found {
		return nil, errors.Wrapf(ErrFunctionNotFound, "No runtime for %s", functionARN)
	}

	invocation := &wire.Invocation{
		ID:            uuid.New().String(),
		FunctionARN:   request.FunctionARN,
		ClientContext: request.ClientContext,
		Payload:       request.Payload,
	}

	if request.InvocationType == wire.InvokeEvent {
		if err := target.SendInvocation(invocation); err != nil {
			return nil, errors.Wrap(err, "Failed to send invocation")
		}

		return &wire.InvocationResult{ID: invocation.ID, Status: wire.StatusSuccess}, nil
	}

	resultChan := make(chan *wire.InvocationResult, 1)

	r.mu.Lock()
	r.pending[invocation.ID] = resultChan
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, invocation.ID)
		r.mu.Unlock()
	}()

	if err := target.SendInvocation(invocation); err != nil {
		return nil, errors.Wrap(err, "Failed to send invocation")
	}

	select {
	case result := <-resultChan:
		return result, nil
	case <-time.After(r.invokeTimeout):
		return nil, errors.Wrapf(ErrInvokeTimeout, "Function %s did not answer within %s",
			functionARN, r.invokeTimeout)
	}
}

// Complete routes a runtime's result back to the waiting invoker. Results
// for invocations nobody waits on (event invokes, timed out invokes) are
// dropped.
func (r *Registry) Complete(result *wire.InvocationResult) {
	r.mu.Lock()
	resultChan := r.pending[result.ID]
	r.mu.Unlock()

	if resultChan == nil {
		r.logger.DebugWith("Dropping result for unknown invocation", "id", result.ID)
		return
	}

	select {
	case resultChan <- result:
	default:
	}
}

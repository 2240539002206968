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

// Package session owns request handles - the streamed response contexts
// behind every exchange with the core. A handle is single-owner: it must
// not be read concurrently from two goroutines, and no handle may outlive
// its Close.
package session

import (
	"sync"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/transport"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

// Caller is what the session layer needs from the transport layer
type Caller interface {

	// Call sends a request and returns its in-flight call
	Call(request *wire.Request) (*transport.Call, error)

	// Abandon drops an in-flight call, discarding undelivered chunks
	Abandon(requestID string)
}

// Manager creates and tracks request handles
type Manager struct {
	logger logger.Logger
	caller Caller

	mu   sync.Mutex
	open map[string]*Request
}

// NewManager returns a handle manager on top of the given transport
func NewManager(parentLogger logger.Logger, caller Caller) *Manager {
	return &Manager{
		logger: parentLogger.GetChild("session"),
		caller: caller,
		open:   map[string]*Request{},
	}
}

// Open creates a fresh request handle. The caller must Close it when done.
func (m *Manager) Open() (*Request, error) {
	request := &Request{
		id:      xid.New().String(),
		manager: m,
	}

	m.mu.Lock()
	m.open[request.id] = request
	m.mu.Unlock()

	return request, nil
}

// NumOpen returns how many handles are currently open
func (m *Manager) NumOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.open)
}

func (m *Manager) remove(requestID string) {
	m.mu.Lock()
	delete(m.open, requestID)
	m.mu.Unlock()
}

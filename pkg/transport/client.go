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

// Package transport maintains the persistent connection to the local core.
// Concurrent logical requests are multiplexed onto the single connection;
// whole frames are serialized under a write lock so partial frames never
// interleave. Connection loss fails every in-flight call with
// ggerrors.ErrDisconnected and triggers a bounded reconnect - in-flight
// callers are never left hanging.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Config configures a client connection to the core
type Config struct {

	// Network and Address as taken by net.Dial, unix socket by default
	Network string
	Address string

	// Codec negotiated at handshake, "json" by default
	Codec string

	// Kind and FunctionARN identify this peer to the core. FunctionARN is
	// required for runtime clients so the core can route invocations.
	Kind        wire.ClientKind
	FunctionARN string

	DialTimeout time.Duration

	// Reconnect policy. Zero attempts means connection loss is terminal.
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// How many invocations may queue up before the core's writes block
	InvocationBufferSize int
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = "unix"
	}
	if c.Kind == "" {
		c.Kind = wire.ClientKindSDK
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 250 * time.Millisecond
	}
	if c.InvocationBufferSize == 0 {
		c.InvocationBufferSize = 8
	}
}

// Client multiplexes calls onto one connection to the core
type Client struct {
	logger logger.Logger
	config *Config
	codec  wire.Codec

	// serializes whole-frame writes
	writeMu     sync.Mutex
	frameWriter *wire.FrameWriter

	conn net.Conn

	pendingMu sync.Mutex
	pending   map[string]*Call

	invocations chan *wire.Invocation

	stateMu   sync.Mutex
	connected bool
	closed    bool
	lastErr   error

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates an unconnected client
func NewClient(parentLogger logger.Logger, config *Config) (*Client, error) {
	if config == nil || config.Address == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Core address must be set")
	}

	config.setDefaults()

	codec, err := wire.NewCodec(config.Codec)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to resolve codec")
	}

	return &Client{
		logger:      parentLogger.GetChild("transport"),
		config:      config,
		codec:       codec,
		pending:     map[string]*Call{},
		invocations: make(chan *wire.Invocation, config.InvocationBufferSize),
		done:        make(chan struct{}),
	}, nil
}

// Connect dials the core, performs the handshake and starts the reader loop
func (c *Client) Connect() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return errors.Wrap(ggerrors.ErrInvalidState, "Client is closed")
	}

	if c.connected {
		return errors.Wrap(ggerrors.ErrInvalidState, "Client is already connected")
	}

	if err := c.dial(); err != nil {
		return err
	}

	c.connected = true

	go c.readLoop()

	return nil
}

// dial establishes the connection and sends the handshake. Caller holds stateMu.
func (c *Client) dial() error {
	conn, err := net.DialTimeout(c.config.Network, c.config.Address, c.config.DialTimeout)
	if err != nil {
		return errors.Wrapf(err, "Failed to connect to core at %s", c.config.Address)
	}

	// the handshake is always JSON, everything after it uses the
	// negotiated codec
	frameWriter := wire.NewFrameWriter(conn, &wire.JSONCodec{})

	if err := frameWriter.WriteFrame(&wire.Frame{
		Type: wire.FrameHandshake,
		Handshake: &wire.Handshake{
			Kind:        c.config.Kind,
			Codec:       c.codec.Name(),
			FunctionARN: c.config.FunctionARN,
		},
	}); err != nil {
		conn.Close() // nolint: errcheck
		return errors.Wrap(err, "Failed to send handshake")
	}

	frameWriter.SetCodec(c.codec)

	c.conn = conn

	// send reads frameWriter under writeMu only, and a sender that passed
	// checkConnected before a drop can still be in flight while reconnect
	// redials - swap the writer under the write lock
	c.writeMu.Lock()
	c.frameWriter = frameWriter
	c.writeMu.Unlock()

	c.logger.DebugWith("Connected to core",
		"address", c.config.Address,
		"kind", c.config.Kind,
		"codec", c.codec.Name())

	return nil
}

// Call sends a request and returns its in-flight call. The request must
// carry a unique ID.
func (c *Client) Call(request *wire.Request) (*Call, error) {
	if request == nil || request.ID == "" {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Request must carry an ID")
	}

	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	call := NewCall()

	// register before sending so a fast response can't miss the entry
	c.pendingMu.Lock()
	c.pending[request.ID] = call
	c.pendingMu.Unlock()

	if err := c.send(&wire.Frame{
		Type:    wire.FrameRequest,
		Request: request,
	}); err != nil {
		c.Abandon(request.ID)
		return nil, err
	}

	return call, nil
}

// Abandon drops the pending entry for a request, e.g. when its handle is
// closed before the stream is exhausted. Chunks still in flight are dropped.
func (c *Client) Abandon(requestID string) {
	c.pendingMu.Lock()
	call := c.pending[requestID]
	delete(c.pending, requestID)
	c.pendingMu.Unlock()

	if call != nil {
		call.Fail(nil)
	}
}

// SendResult reports an invocation result back to the core (runtime clients only)
func (c *Client) SendResult(result *wire.InvocationResult) error {
	if err := c.checkConnected(); err != nil {
		return err
	}

	return c.send(&wire.Frame{
		Type:             wire.FrameInvocationResult,
		InvocationResult: result,
	})
}

// Invocations returns the stream of invocations pushed by the core
func (c *Client) Invocations() <-chan *wire.Invocation {
	return c.invocations
}

// Done is closed when the client terminally loses its connection or is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal connection error, if any. The runtime loop and
// callers use this to observe a background disconnect.
func (c *Client) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.lastErr
}

// Close tears the connection down. Closing twice is an invalid-state error.
func (c *Client) Close() error {
	c.stateMu.Lock()

	if c.closed {
		c.stateMu.Unlock()
		return errors.Wrap(ggerrors.ErrInvalidState, "Client is already closed")
	}

	c.closed = true
	c.connected = false
	conn := c.conn
	c.stateMu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })

	if conn != nil {
		if err := conn.Close(); err != nil {
			return errors.Wrap(err, "Failed to close connection")
		}
	}

	c.failPending(ggerrors.ErrDisconnected)

	return nil
}

func (c *Client) checkConnected() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return errors.Wrap(ggerrors.ErrInvalidState, "Client is closed")
	}

	if !c.connected {
		if c.lastErr != nil {
			return errors.Wrap(c.lastErr, "Connection to core is down")
		}

		return errors.Wrap(ggerrors.ErrInvalidState, "Client is not connected")
	}

	return nil
}

func (c *Client) send(frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.frameWriter == nil {
		return errors.Wrap(ggerrors.ErrDisconnected, "No connection")
	}

	if err := c.frameWriter.WriteFrame(frame); err != nil {
		return errors.Wrap(ggerrors.ErrDisconnected, err.Error())
	}

	return nil
}

func (c *Client) readLoop() {
	for {
		c.stateMu.Lock()
		conn := c.conn
		c.stateMu.Unlock()

		readErr := c.readFrames(wire.NewFrameReader(conn, c.codec))

		c.stateMu.Lock()
		closed := c.closed
		c.stateMu.Unlock()

		if closed {
			return
		}

		c.logger.WarnWith("Lost connection to core", "err", readErr)

		// whatever was in flight is gone - fail it rather than leaving
		// callers hanging on a reconnect that may never succeed
		c.failPending(ggerrors.ErrDisconnected)

		if !c.reconnect() {
			c.terminate(ggerrors.ErrDisconnected)
			return
		}
	}
}

// readFrames pumps frames off the connection until it errors
func (c *Client) readFrames(frameReader *wire.FrameReader) error {
	for {
		frame, err := frameReader.ReadFrame()
		if err != nil {
			return err
		}

		switch frame.Type {
		case wire.FrameResponse:
			if frame.Response == nil {
				continue
			}

			c.pendingMu.Lock()
			call := c.pending[frame.Response.ID]
			if frame.Response.Last {
				delete(c.pending, frame.Response.ID)
			}
			c.pendingMu.Unlock()

			if call == nil {
				c.logger.DebugWith("Dropping response for unknown request",
					"requestID", frame.Response.ID)
				continue
			}

			call.Deliver(frame.Response)

		case wire.FrameInvocation:
			if frame.Invocation == nil {
				continue
			}

			select {
			case c.invocations <- frame.Invocation:
			case <-c.done:
				return ggerrors.ErrTerminate
			}

		default:
			c.logger.WarnWith("Dropping unexpected frame", "type", frame.Type)
		}
	}
}

// reconnect attempts a bounded number of redials with increasing backoff
func (c *Client) reconnect() bool {
	c.stateMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close() // nolint: errcheck
	}
	c.stateMu.Unlock()

	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.config.ReconnectInterval * time.Duration(attempt))

		c.stateMu.Lock()
		if c.closed {
			c.stateMu.Unlock()
			return false
		}

		err := c.dial()
		if err == nil {
			c.connected = true
			c.lastErr = nil
			c.stateMu.Unlock()

			c.logger.InfoWith("Reconnected to core", "attempt", attempt)

			return true
		}
		c.stateMu.Unlock()

		c.logger.WarnWith("Reconnect attempt failed",
			"attempt", attempt,
			"maxAttempts", c.config.MaxReconnectAttempts,
			"err", err)
	}

	return false
}

// terminate records the terminal error and wakes anything waiting on Done
func (c *Client) terminate(err error) {
	c.stateMu.Lock()
	c.connected = false
	c.lastErr = err
	c.stateMu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = map[string]*Call{}
	c.pendingMu.Unlock()

	for _, call := range pending {
		call.Fail(err)
	}
}

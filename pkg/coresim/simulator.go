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

// Package coresim is a local core: it listens on a unix socket, speaks the
// SDK's frame protocol and serves publishes, shadow and secret requests and
// function invocations against in-memory stores. It exists so functions
// built on the SDK can run and be tested without a real core.
package coresim

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/common"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"golang.org/x/sync/errgroup"
)

// Simulator is a local core instance
type Simulator struct {
	logger        logger.Logger
	configuration *Configuration

	broker   *Broker
	shadows  *ShadowStore
	secrets  *SecretStore
	registry *Registry
	bridge   *CloudBridge

	listener    net.Listener
	serveGroup  errgroup.Group
	shutdown    chan struct{}
	mu          sync.Mutex
	connections map[*coreConnection]struct{}
	started     bool
	closed      bool
}

// NewSimulator creates a simulator from its configuration. Configured
// secrets are loaded into the secret store before anything can connect.
func NewSimulator(parentLogger logger.Logger, configuration *Configuration) (*Simulator, error) {
	if configuration == nil {
		configuration = NewConfiguration()
	}
	configuration.setDefaults()

	simulatorLogger := parentLogger.GetChild("coresim")

	simulator := &Simulator{
		logger:        simulatorLogger,
		configuration: configuration,
		broker:        NewBroker(simulatorLogger, configuration.QueueDepth),
		shadows:       NewShadowStore(),
		secrets:       NewSecretStore(),
		registry:      NewRegistry(simulatorLogger, configuration.InvokeTimeout),
		shutdown:      make(chan struct{}),
		connections:   map[*coreConnection]struct{}{},
	}

	for _, secretConfiguration := range configuration.Secrets {
		secretString := secretConfiguration.SecretString
		simulator.secrets.Put(&StoredSecret{
			ARN:           secretConfiguration.ARN,
			Name:          secretConfiguration.Name,
			VersionID:     secretConfiguration.VersionID,
			SecretString:  &secretString,
			VersionStages: secretConfiguration.VersionStages,
		})
	}

	if configuration.CloudBridge.Enabled {
		bridge, err := NewCloudBridge(simulatorLogger, simulator.broker, &configuration.CloudBridge)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create cloud bridge")
		}

		simulator.bridge = bridge
	}

	return simulator, nil
}

// Start begins listening and serving connections
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrap(ggerrors.ErrInvalidState, "Simulator is already started")
	}

	// a stale socket file from a previous run would fail the bind
	if s.configuration.Network == "unix" && common.FileExists(s.configuration.ListenAddress) {
		if err := os.Remove(s.configuration.ListenAddress); err != nil {
			return errors.Wrap(err, "Failed to remove stale socket")
		}
	}

	listener, err := net.Listen(s.configuration.Network, s.configuration.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen on %s", s.configuration.ListenAddress)
	}

	s.listener = listener
	s.started = true

	for _, subscriptionConfiguration := range s.configuration.Subscriptions {
		s.startSubscriptionForwarder(subscriptionConfiguration)
	}

	if s.bridge != nil {
		if err := s.bridge.Start(); err != nil {
			listener.Close() // nolint: errcheck
			return errors.Wrap(err, "Failed to start cloud bridge")
		}
	}

	s.serveGroup.Go(s.acceptConnections)

	s.logger.InfoWith("Listening",
		"network", s.configuration.Network,
		"address", listener.Addr().String())

	return nil
}

// Address returns the address the simulator listens on
func (s *Simulator) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.configuration.ListenAddress
	}

	return s.listener.Addr().String()
}

// Broker exposes the pub/sub broker, e.g. for local test subscriptions
func (s *Simulator) Broker() *Broker {
	return s.broker
}

// Shadows exposes the shadow store
func (s *Simulator) Shadows() *ShadowStore {
	return s.shadows
}

// Secrets exposes the secret store
func (s *Simulator) Secrets() *SecretStore {
	return s.secrets
}

// HasFunction reports whether a runtime is connected for the ARN. Useful
// for waiting out the window between a runtime dialing in and its
// handshake being served.
func (s *Simulator) HasFunction(functionARN string) bool {
	return s.registry.Registered(functionARN)
}

// Stop shuts the simulator down and waits for its connections to drain
func (s *Simulator) Stop() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return errors.Wrap(ggerrors.ErrInvalidState, "Simulator is already stopped")
	}

	s.closed = true
	close(s.shutdown)

	listener := s.listener
	connections := make([]*coreConnection, 0, len(s.connections))
	for connection := range s.connections {
		connections = append(connections, connection)
	}
	s.mu.Unlock()

	if s.bridge != nil {
		s.bridge.Stop()
	}

	if listener != nil {
		listener.Close() // nolint: errcheck
	}

	for _, connection := range connections {
		connection.conn.Close() // nolint: errcheck
	}

	return s.serveGroup.Wait()
}

// startSubscriptionForwarder delivers messages matching a configured topic
// to the target function as event invocations, carrying the topic in the
// invocation's client context
func (s *Simulator) startSubscriptionForwarder(subscriptionConfiguration SubscriptionConfiguration) {
	subscription := s.broker.Subscribe(subscriptionConfiguration.Topic)

	s.serveGroup.Go(func() error {
		for {
			select {
			case message := <-subscription.Messages():
				if _, err := s.registry.Invoke(&wire.Request{
					Kind:           wire.KindInvoke,
					FunctionARN:    subscriptionConfiguration.TargetARN,
					ClientContext:  message.Topic,
					InvocationType: wire.InvokeEvent,
					Payload:        message.Payload,
				}); err != nil {
					s.logger.WarnWith("Failed to deliver subscription message",
						"topic", message.Topic,
						"targetArn", subscriptionConfiguration.TargetARN,
						"err", err)
				}

			case <-s.shutdown:
				return nil
			}
		}
	})
}

func (s *Simulator) acceptConnections() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return errors.Wrap(err, "Failed to accept connection")
			}
		}

		connection := &coreConnection{
			simulator: s,
			logger:    s.logger.GetChild("conn"),
			conn:      conn,
		}

		s.mu.Lock()
		s.connections[connection] = struct{}{}
		s.mu.Unlock()

		s.serveGroup.Go(func() error {
			connection.serve()

			s.mu.Lock()
			delete(s.connections, connection)
			s.mu.Unlock()

			return nil
		})
	}
}

// coreConnection serves one connected SDK or runtime client
type coreConnection struct {
	simulator *Simulator
	logger    logger.Logger
	conn      net.Conn

	writeMu     sync.Mutex
	frameWriter *wire.FrameWriter

	functionARN string
}

// SendInvocation pushes an invocation to a runtime client
func (c *coreConnection) SendInvocation(invocation *wire.Invocation) error {
	return c.writeFrame(&wire.Frame{
		Type:       wire.FrameInvocation,
		Invocation: invocation,
	})
}

func (c *coreConnection) serve() {
	defer c.conn.Close() // nolint: errcheck

	// the handshake is always JSON, frames after it use the codec the
	// client asked for
	frameReader := wire.NewFrameReader(c.conn, &wire.JSONCodec{})
	c.frameWriter = wire.NewFrameWriter(c.conn, &wire.JSONCodec{})

	frame, err := frameReader.ReadFrame()
	if err != nil || frame.Type != wire.FrameHandshake || frame.Handshake == nil {
		c.logger.WarnWith("Connection sent no handshake", "err", err)
		return
	}

	codec, err := wire.NewCodec(frame.Handshake.Codec)
	if err != nil {
		c.logger.WarnWith("Connection asked for unknown codec",
			"codec", frame.Handshake.Codec)
		return
	}

	frameReader.SetCodec(codec)

	c.writeMu.Lock()
	c.frameWriter.SetCodec(codec)
	c.writeMu.Unlock()

	if frame.Handshake.Kind == wire.ClientKindRuntime && frame.Handshake.FunctionARN != "" {
		c.functionARN = frame.Handshake.FunctionARN
		c.simulator.registry.Register(c.functionARN, c)
		defer c.simulator.registry.Unregister(c.functionARN, c)
	}

	for {
		frame, err := frameReader.ReadFrame()
		if err != nil {
			return
		}

		switch frame.Type {
		case wire.FrameRequest:
			if frame.Request == nil {
				continue
			}

			// requests may block (request/response invoke), so each one
			// is served on its own goroutine. Whole-frame writes are
			// serialized by writeMu.
			go c.handleRequest(frame.Request)

		case wire.FrameInvocationResult:
			if frame.InvocationResult != nil {
				c.simulator.registry.Complete(frame.InvocationResult)
			}

		default:
			c.logger.WarnWith("Dropping unexpected frame", "type", frame.Type)
		}
	}
}

func (c *coreConnection) handleRequest(request *wire.Request) {
	switch request.Kind {
	case wire.KindPublish:
		c.handlePublish(request)
	case wire.KindShadowGet:
		c.handleShadowGet(request)
	case wire.KindShadowUpdate:
		c.handleShadowUpdate(request)
	case wire.KindShadowDelete:
		c.handleShadowDelete(request)
	case wire.KindSecretGet:
		c.handleSecretGet(request)
	case wire.KindInvoke:
		c.handleInvoke(request)
	default:
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
	}
}

func (c *coreConnection) handlePublish(request *wire.Request) {
	if request.Topic == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	policy := wire.QueueFullBestEffort
	if request.QueueFullPolicy != nil {
		policy = *request.QueueFullPolicy
	}

	if policy == wire.QueueFullAllOrError {
		if err := c.simulator.broker.PublishAllOrError(request.Topic, request.Payload); err != nil {
			c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusAgain,
				errorDocument(http.StatusTooManyRequests, "Subscriber queue is full"))
			return
		}
	} else {
		c.simulator.broker.PublishBestEffort(request.Topic, request.Payload)
	}

	c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusSuccess, nil)
}

func (c *coreConnection) handleShadowGet(request *wire.Request) {
	if request.Name == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	document, found := c.simulator.shadows.Get(request.Name)
	if !found {
		c.respondNotFound(request.ID, "No shadow exists with name: "+request.Name)
		return
	}

	c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusSuccess, document)
}

func (c *coreConnection) handleShadowUpdate(request *wire.Request) {
	if request.Name == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	accepted := c.simulator.shadows.Update(request.Name, request.Payload)

	c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusSuccess, accepted)
}

func (c *coreConnection) handleShadowDelete(request *wire.Request) {
	if request.Name == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	if !c.simulator.shadows.Delete(request.Name) {
		c.respondNotFound(request.ID, "No shadow exists with name: "+request.Name)
		return
	}

	c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusSuccess, nil)
}

func (c *coreConnection) handleSecretGet(request *wire.Request) {
	if request.Name == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	secret, found := c.simulator.secrets.Get(request.Name, request.VersionID, request.VersionStage)
	if !found {
		c.respondNotFound(request.ID, "Secret not found: "+request.Name)
		return
	}

	body, err := json.Marshal(secret)
	if err != nil {
		c.respondCode(request.ID, ggerrors.CodeInternalFailure)
		return
	}

	c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusSuccess, body)
}

func (c *coreConnection) handleInvoke(request *wire.Request) {
	if request.FunctionARN == "" {
		c.respondCode(request.ID, ggerrors.CodeInvalidParameter)
		return
	}

	result, err := c.simulator.registry.Invoke(request)
	if err != nil {
		switch errors.RootCause(err) {
		case ErrFunctionNotFound:
			c.respondNotFound(request.ID, "No function deployed for arn: "+request.FunctionARN)
		case ErrInvokeTimeout:
			c.respond(request.ID, ggerrors.CodeSuccess, wire.StatusAgain,
				errorDocument(http.StatusTooManyRequests, "Function did not answer in time"))
		default:
			c.respondCode(request.ID, ggerrors.CodeInternalFailure)
		}
		return
	}

	c.respond(request.ID, ggerrors.CodeSuccess, result.Status, result.Body)
}

// respond writes a response, chunking the body so a single frame never
// carries more than the chunk size. The first chunk carries the code and
// status, the final one the Last flag.
func (c *coreConnection) respond(requestID string, code ggerrors.Code, status wire.Status, body []byte) {
	first := true

	for {
		chunk := body
		if len(chunk) > wire.BodyChunkSize {
			chunk = chunk[:wire.BodyChunkSize]
		}
		body = body[len(chunk):]

		response := &wire.Response{
			ID:   requestID,
			Body: chunk,
			Last: len(body) == 0,
		}

		if first {
			response.Code = int32(code)
			response.Status = status
			first = false
		}

		if err := c.writeFrame(&wire.Frame{
			Type:     wire.FrameResponse,
			Response: response,
		}); err != nil {
			c.logger.WarnWith("Failed to write response",
				"requestID", requestID,
				"err", err)
			return
		}

		if len(body) == 0 {
			return
		}
	}
}

func (c *coreConnection) respondCode(requestID string, code ggerrors.Code) {
	c.respond(requestID, code, wire.StatusUnknown, nil)
}

func (c *coreConnection) respondNotFound(requestID string, message string) {
	c.respond(requestID, ggerrors.CodeSuccess, wire.StatusHandled,
		errorDocument(http.StatusNotFound, message))
}

func (c *coreConnection) writeFrame(frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.frameWriter.WriteFrame(frame)
}

func errorDocument(code int, message string) []byte {
	body, _ := json.Marshal(wire.NewErrorResponse(code, message))
	return body
}

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

// Package sdk is the entry point: it owns the connection to the local
// core and hands out the façade clients. An SDK must be constructed once
// at process startup, before any goroutines issue calls through it - this
// is a caller contract, not something the SDK enforces.
package sdk

import (
	"os"
	"sync"
	"time"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/ggerrors"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/iotdata"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/lambda"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/runtime"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/secret"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/session"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/shadow"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/transport"
	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

// Config configures the SDK
type Config struct {

	// SocketPath is where the local core listens
	SocketPath string

	// Network overrides the socket network, unix by default
	Network string

	// Codec selects the wire codec, json by default
	Codec string

	// FunctionARN identifies this process to the core. Required for
	// runtimes so invocations can be routed here.
	FunctionARN string

	// LogLevel is one of debug, info, warn, error
	LogLevel string

	DialTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
}

// SDK owns the core connection and the façade clients
type SDK struct {
	logger   logger.Logger
	client   *transport.Client
	sessions *session.Manager

	iotDataClient *iotdata.Client
	shadowClient  *shadow.Client
	secretClient  *secret.Client
	lambdaClient  *lambda.Client

	runtimeMu      sync.Mutex
	currentRuntime *runtime.Runtime
}

// NewSDK connects to the local core. Call once at startup, on the main
// goroutine, before spawning anything that uses the SDK.
func NewSDK(config *Config) (*SDK, error) {
	if config == nil {
		return nil, errors.Wrap(ggerrors.ErrInvalidParameter, "Config must be set")
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd("greengrass",
		nucliozap.GetLevelByName(resolveLogLevel(config.LogLevel)))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	return NewSDKWithLogger(loggerInstance, config)
}

// NewSDKWithLogger connects to the local core using the given parent logger
func NewSDKWithLogger(parentLogger logger.Logger, config *Config) (*SDK, error) {
	client, err := transport.NewClient(parentLogger, &transport.Config{
		Network:              config.Network,
		Address:              config.SocketPath,
		Codec:                config.Codec,
		Kind:                 resolveClientKind(config),
		FunctionARN:          config.FunctionARN,
		DialTimeout:          config.DialTimeout,
		MaxReconnectAttempts: config.MaxReconnectAttempts,
		ReconnectInterval:    config.ReconnectInterval,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create transport client")
	}

	if err := client.Connect(); err != nil {
		return nil, errors.Wrap(err, "Failed to connect to core")
	}

	sessions := session.NewManager(parentLogger, client)

	return &SDK{
		logger:        parentLogger,
		client:        client,
		sessions:      sessions,
		iotDataClient: iotdata.NewClient(parentLogger, sessions),
		shadowClient:  shadow.NewClient(parentLogger, sessions),
		secretClient:  secret.NewClient(parentLogger, sessions),
		lambdaClient:  lambda.NewClient(parentLogger, sessions),
	}, nil
}

// NewRequest opens a request handle. The caller must close it exactly once.
func (s *SDK) NewRequest() (*session.Request, error) {
	return s.sessions.Open()
}

// IoTData returns the publish client
func (s *SDK) IoTData() *iotdata.Client {
	return s.iotDataClient
}

// Shadow returns the thing shadow client
func (s *SDK) Shadow() *shadow.Client {
	return s.shadowClient
}

// Secrets returns the secrets client
func (s *SDK) Secrets() *secret.Client {
	return s.secretClient
}

// Lambda returns the invoke client
func (s *SDK) Lambda() *lambda.Client {
	return s.lambdaClient
}

// NewRuntime registers the handler for inbound invocations. The SDK must
// have been configured with a FunctionARN. Exactly one runtime may be live
// per SDK - a second registration is an invalid-state error until the
// previous runtime's loop has ended, since two loops would steal
// invocations off the same connection.
func (s *SDK) NewRuntime(handler runtime.Handler) (*runtime.Runtime, error) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()

	if s.currentRuntime != nil {
		select {
		case <-s.currentRuntime.Done():
		default:
			return nil, errors.Wrap(ggerrors.ErrInvalidState, "A runtime is already registered")
		}
	}

	runtimeInstance, err := runtime.NewRuntime(s.logger, s.client, handler)
	if err != nil {
		return nil, err
	}

	s.currentRuntime = runtimeInstance

	return runtimeInstance, nil
}

// Logger returns the SDK's logger for application use
func (s *SDK) Logger() logger.Logger {
	return s.logger
}

// Fatal logs at error level and exits the process
func (s *SDK) Fatal(format string, vars ...interface{}) {
	s.logger.Error(format, vars...)
	s.logger.Flush()
	os.Exit(1)
}

// Err surfaces a terminal background connection failure
func (s *SDK) Err() error {
	return s.client.Err()
}

// Close tears down the connection. Closing twice is an invalid-state error.
func (s *SDK) Close() error {
	return s.client.Close()
}

func resolveLogLevel(level string) string {
	if level == "" {
		return "info"
	}

	return level
}

func resolveClientKind(config *Config) wire.ClientKind {
	if config.FunctionARN != "" {
		return wire.ClientKindRuntime
	}

	return wire.ClientKindSDK
}

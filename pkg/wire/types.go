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

// Package wire defines the frame protocol spoken between the SDK and the
// local core over a unix domain socket. Frames are length prefixed and
// encoded with a codec negotiated at handshake time (the handshake itself
// is always JSON).
package wire

import (
	"time"
)

// FrameType discriminates the envelope
type FrameType string

const (
	FrameHandshake        FrameType = "handshake"
	FrameRequest          FrameType = "request"
	FrameResponse         FrameType = "response"
	FrameInvocation       FrameType = "invocation"
	FrameInvocationResult FrameType = "invocationResult"
)

// Status classifies the application-level outcome of a request,
// independent of whether the SDK call itself succeeded
type Status int32

const (

	// StatusSuccess - the call returned the expected payload
	StatusSuccess Status = iota

	// StatusHandled - the call went through but the target responded with an error
	StatusHandled

	// StatusUnhandled - the target exited abnormally
	StatusUnhandled

	// StatusUnknown - the core encountered an unknown error, check its logs
	StatusUnknown

	// StatusAgain - the call was throttled, the caller should back off and retry
	StatusAgain
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusHandled:
		return "handled"
	case StatusUnhandled:
		return "unhandled"
	case StatusAgain:
		return "again"
	default:
		return "unknown"
	}
}

// InvocationType selects whether an invoke waits for a response
type InvocationType int32

const (

	// InvokeEvent - fire and forget
	InvokeEvent InvocationType = iota

	// InvokeRequestResponse - the invoker reads the invokee's response (default)
	InvokeRequestResponse
)

// QueueFullPolicy selects delivery semantics when a subscriber queue is full
type QueueFullPolicy int32

const (

	// QueueFullBestEffort - deliver to as many targets as possible,
	// partial delivery still reports success
	QueueFullBestEffort QueueFullPolicy = iota

	// QueueFullAllOrError - deliver to all targets or to none,
	// reporting StatusAgain when any target queue is full
	QueueFullAllOrError
)

// ClientKind identifies the connecting peer at handshake time
type ClientKind string

const (
	ClientKindSDK     ClientKind = "sdk"
	ClientKindRuntime ClientKind = "runtime"
)

// RequestKind routes a request frame at the core
type RequestKind string

const (
	KindPublish      RequestKind = "publish"
	KindInvoke       RequestKind = "invoke"
	KindShadowGet    RequestKind = "shadowGet"
	KindShadowUpdate RequestKind = "shadowUpdate"
	KindShadowDelete RequestKind = "shadowDelete"
	KindSecretGet    RequestKind = "secretGet"
)

// Handshake is the first frame on every connection, always JSON encoded
type Handshake struct {
	Kind        ClientKind `json:"kind"`
	Codec       string     `json:"codec,omitempty"`
	FunctionARN string     `json:"functionArn,omitempty"`
}

// Request is a client originated request. Optional qualifiers are pointers
// so that absence is distinguishable from an empty string.
type Request struct {
	ID              string           `json:"id"`
	Kind            RequestKind      `json:"kind"`
	Topic           string           `json:"topic,omitempty"`
	Name            string           `json:"name,omitempty"`
	FunctionARN     string           `json:"functionArn,omitempty"`
	Qualifier       *string          `json:"qualifier,omitempty"`
	VersionID       *string          `json:"versionId,omitempty"`
	VersionStage    *string          `json:"versionStage,omitempty"`
	ClientContext   string           `json:"clientContext,omitempty"`
	InvocationType  InvocationType   `json:"invocationType,omitempty"`
	QueueFullPolicy *QueueFullPolicy `json:"queueFullPolicy,omitempty"`
	Payload         []byte           `json:"payload,omitempty"`
}

// Response carries one chunk of a possibly-streamed response body. The
// first chunk of an exchange carries the error code and result status,
// Last marks the final chunk.
type Response struct {
	ID     string `json:"id"`
	Code   int32  `json:"code,omitempty"`
	Status Status `json:"status,omitempty"`
	Body   []byte `json:"body,omitempty"`
	Last   bool   `json:"last,omitempty"`
}

// Invocation is pushed by the core to a runtime client
type Invocation struct {
	ID            string `json:"id"`
	FunctionARN   string `json:"functionArn"`
	ClientContext string `json:"clientContext,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
}

// InvocationResult is what a runtime reports back for an invocation
type InvocationResult struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

// Frame is the envelope written on the wire
type Frame struct {
	Type             FrameType         `json:"type"`
	Handshake        *Handshake        `json:"handshake,omitempty"`
	Request          *Request          `json:"request,omitempty"`
	Response         *Response         `json:"response,omitempty"`
	Invocation       *Invocation       `json:"invocation,omitempty"`
	InvocationResult *InvocationResult `json:"invocationResult,omitempty"`
}

// ErrorResponse is the JSON error document carried in the body of a failed
// request. The core uses HTTP status codes even though no HTTP is involved,
// matching what the cloud does over MQTT.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewErrorResponse returns an error document stamped with the current time
func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

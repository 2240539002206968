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

package wire

import (
	"encoding/json"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// Codec encodes and decodes frame payloads
type Codec interface {

	// Name returns the codec name as negotiated in the handshake
	Name() string

	// Marshal encodes a frame
	Marshal(frame *Frame) ([]byte, error)

	// Unmarshal decodes a frame
	Unmarshal(data []byte, frame *Frame) error
}

// JSONCodec is the default codec
type JSONCodec struct{}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) Marshal(frame *Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func (c *JSONCodec) Unmarshal(data []byte, frame *Frame) error {
	return json.Unmarshal(data, frame)
}

// MsgpackCodec trades readability for compactness on high-rate publishers
type MsgpackCodec struct{}

func (c *MsgpackCodec) Name() string {
	return "msgpack"
}

func (c *MsgpackCodec) Marshal(frame *Frame) ([]byte, error) {
	return msgpack.Marshal(frame)
}

func (c *MsgpackCodec) Unmarshal(data []byte, frame *Frame) error {
	return msgpack.Unmarshal(data, frame)
}

// NewCodec resolves a codec by name, defaulting to JSON for an empty name
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return &JSONCodec{}, nil
	case "msgpack":
		return &MsgpackCodec{}, nil
	default:
		return nil, errors.Errorf("Unknown codec %q", name)
	}
}

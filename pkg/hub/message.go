/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hub

import (
	"errors"
)

// MessageType is the frame discriminator.
type MessageType int

const (
	InvocationMessage MessageType = 1
	CompletionMessage MessageType = 3
	PingMessage       MessageType = 6
	CloseMessage      MessageType = 7
)

// Message is the single frame shape exchanged in both directions. An
// Invocation without an InvocationID expects no Completion.
type Message struct {
	Type         MessageType `json:"type"`
	InvocationID string      `json:"invocationId,omitempty"`
	Target       string      `json:"target,omitempty"`
	Arguments    []RawValue  `json:"arguments,omitempty"`
	Result       RawValue    `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

var errRawValueNil = errors.New("hub: RawValue: unmarshal on nil pointer")

// RawValue holds one argument or result still encoded with the
// connection's codec. It passes through both codecs verbatim.
type RawValue []byte

//nolint:gochecknoglobals // encoded null for each codec
var (
	jsonNull = []byte("null")
	cborNull = []byte{0xf6}
)

func (v RawValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return jsonNull, nil
	}

	return v, nil
}

func (v *RawValue) UnmarshalJSON(data []byte) error {
	if v == nil {
		return errRawValueNil
	}

	*v = append((*v)[0:0], data...)

	return nil
}

func (v RawValue) MarshalCBOR() ([]byte, error) {
	if len(v) == 0 {
		return cborNull, nil
	}

	return v, nil
}

func (v *RawValue) UnmarshalCBOR(data []byte) error {
	if v == nil {
		return errRawValueNil
	}

	*v = append((*v)[0:0], data...)

	return nil
}

// encodeArguments marshals each argument separately so the receiver can
// bind them positionally.
func encodeArguments(codec Codec, args []any) ([]RawValue, error) {
	if len(args) == 0 {
		return nil, nil
	}

	out := make([]RawValue, len(args))

	for i, arg := range args {
		data, err := codec.Marshal(arg)
		if err != nil {
			return nil, err
		}

		out[i] = data
	}

	return out, nil
}

func encodeInvocation(codec Codec, id, target string, args []any) ([]byte, error) {
	arguments, err := encodeArguments(codec, args)
	if err != nil {
		return nil, err
	}

	return codec.Marshal(Message{
		Type:         InvocationMessage,
		InvocationID: id,
		Target:       target,
		Arguments:    arguments,
	})
}

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
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

const (
	SubprotocolJSON = "relay.json.v1"
	SubprotocolCBOR = "relay.cbor.v1"
)

// Codec encodes frames and call arguments for one connection.
type Codec interface {
	Name() string
	Subprotocol() string
	// FrameType is the websocket message type frames are written with.
	FrameType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) Subprotocol() string { return SubprotocolJSON }
func (jsonCodec) FrameType() int      { return websocket.TextMessage }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) Subprotocol() string { return SubprotocolCBOR }
func (cborCodec) FrameType() int      { return websocket.BinaryMessage }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

//nolint:gochecknoglobals // codecs are stateless and shared by every connection
var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano

	enc, err := encOptions.EncMode()
	if err != nil {
		panic("hub: CBOR encoder initialization failed: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("hub: CBOR decoder initialization failed: " + err.Error())
	}

	return cborCodec{enc: enc, dec: dec}
}

// Subprotocols lists what the upgrader offers, in preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolCBOR}
}

// negotiateCodec picks the codec from the accepted subprotocol, then the
// protocol query parameter, then defaults to JSON.
func negotiateCodec(subprotocol string, r *http.Request) Codec {
	switch subprotocol {
	case SubprotocolCBOR:
		return CBOR
	case SubprotocolJSON:
		return JSON
	}

	if r != nil && strings.EqualFold(r.URL.Query().Get("protocol"), CBOR.Name()) {
		return CBOR
	}

	return JSON
}

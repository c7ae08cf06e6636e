// protocol.go - Rendezvous wire protocol.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package protocol implements the rendezvous wire protocol: one JSON object
// per line, each carrying a string "type" field plus type specific fields.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Inbound message types.
const (
	// TypeJoin announces the client's crypto parameters.
	TypeJoin = "JOIN"

	// TypeSearch asks to be paired with another searching client.
	TypeSearch = "SEARCH"

	// TypeChat carries an opaque payload to the partner.
	TypeChat = "CHAT"
)

// Outbound message types.
const (
	// TypePartnerFound carries the partner's crypto parameters.
	TypePartnerFound = "PARTNER_FOUND"

	// TypePartnerDisconnected signals that the partner went away.
	TypePartnerDisconnected = "PARTNER_DISCONNECTED"
)

const (
	// FieldType is the envelope field holding the message type.
	FieldType = "type"

	// FieldCryptoParams is the JOIN and PARTNER_FOUND field holding the
	// crypto parameters.
	FieldCryptoParams = "crypto_params"
)

// RequiredCryptoParams are the crypto parameter keys a JOIN must carry.
var RequiredCryptoParams = []string{
	"identityString",
	"publicKey",
	"preKeyList",
	"signedPreKeyList",
}

var (
	// ErrEmptyLine is returned by Decode for a blank line, which clients
	// use to signal that they are done.
	ErrEmptyLine = errors.New("protocol: empty line")

	// ErrMalformed is returned by Decode when a line is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMissingType is returned when an envelope lacks a string type.
	ErrMissingType = errors.New("protocol: message does not have a 'type' property")
)

var jsonHandle = newJSONHandle()

func newJSONHandle() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	h.Raw = true
	h.Canonical = true
	h.HTMLCharsAsIs = true
	return h
}

// Unmarshal decodes a single JSON value.
func Unmarshal(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, jsonHandle).Decode(v)
}

// Envelope is a decoded message.  Field values are kept in their original
// JSON encoding, so that relayed values go out exactly as they came in.
type Envelope map[string]codec.Raw

// Type returns the message type.
func (e Envelope) Type() (string, error) {
	raw := bytes.TrimSpace(e[FieldType])
	if len(raw) == 0 || raw[0] != '"' {
		return "", ErrMissingType
	}
	var t string
	if err := Unmarshal(raw, &t); err != nil {
		return "", ErrMissingType
	}
	return t, nil
}

// Field decodes the named field into v.
func (e Envelope) Field(name string, v interface{}) error {
	raw, ok := e[name]
	if !ok {
		return fmt.Errorf("protocol: message does not have a '%s' property", name)
	}
	return Unmarshal(raw, v)
}

// Payload returns the fields for re-encoding with Encode.
func (e Envelope) Payload() map[string]interface{} {
	m := make(map[string]interface{}, len(e))
	for k, v := range e {
		m[k] = v
	}
	return m
}

// CryptoParams returns the crypto parameters carried by a JOIN, ensuring
// that every key in RequiredCryptoParams is present.  The values are never
// interpreted.
func (e Envelope) CryptoParams() (CryptoParams, error) {
	raw, ok := e[FieldCryptoParams]
	if !ok {
		return nil, fmt.Errorf("protocol: %s message does not have a '%s' property", TypeJoin, FieldCryptoParams)
	}
	var m map[string]codec.Raw
	if err := Unmarshal(raw, &m); err != nil || m == nil {
		return nil, fmt.Errorf("protocol: %s '%s' is not an object", TypeJoin, FieldCryptoParams)
	}
	for _, k := range RequiredCryptoParams {
		if _, ok := m[k]; !ok {
			return nil, fmt.Errorf("protocol: %s message does not have a '%s' property", TypeJoin, k)
		}
	}
	return raw, nil
}

// CryptoParams is the opaque end-to-end encryption key material a client
// publishes to its partner, in its original JSON encoding.
type CryptoParams = codec.Raw

// Decode decodes a single line, with or without its trailing newline.
func Decode(line []byte) (Envelope, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	var env Envelope
	if err := Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	for k, v := range env {
		env[k] = bytes.Clone(bytes.TrimSpace(v))
	}
	return env, nil
}

// Encode serializes payload with its type set to msgType, as a single line
// terminated by a newline.  Values of type codec.Raw, such as the fields of
// a decoded Envelope, are written out verbatim.  The payload is not
// modified.
func Encode(msgType string, payload map[string]interface{}) ([]byte, error) {
	msg := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		if raw, ok := v.(codec.Raw); ok && len(raw) == 0 {
			v = nil
		}
		msg[k] = v
	}
	msg[FieldType] = msgType

	var out []byte
	enc := codec.NewEncoderBytes(&out, jsonHandle)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

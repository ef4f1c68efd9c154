// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport binds cargo's control-RPC surface to gRPC. Payloads are
// self-describing gob-encoded structs from the proto package, so the service
// needs no generated code.
package transport

import (
	"bytes"
	"encoding/gob"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Codec is a gob-based gRPC codec.
type Codec struct{}

// fieldless reports whether v is (a pointer to) a struct carrying no
// exported fields. gob refuses such values at the top level, so they travel
// as empty payloads instead.
func fieldless(v interface{}) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).PkgPath == "" {
			return false
		}
	}
	return true
}

// Marshal gob-encodes v.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	if fieldless(v) {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return buf.Bytes(), nil
}

// Unmarshal gob-decodes data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 && fieldless(v) {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.Wrap(err, "gob decode")
	}
	return nil
}

// Name identifies the codec in the gRPC content subtype.
func (Codec) Name() string {
	return "cargo-gob"
}

// ParseAddress splits a cargo address of the form PROTOCOL://host[:port]
// into its protocol token and host part. The protocol token is any token
// accepted by the configured transport; an address without "://" is invalid.
func ParseAddress(address string) (protocol, host string, err error) {
	idx := strings.Index(address, "://")
	if idx < 0 {
		return "", "", errors.Errorf("invalid address %q: missing protocol separator", address)
	}
	return address[:idx], address[idx+len("://"):], nil
}

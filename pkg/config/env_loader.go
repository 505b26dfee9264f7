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


package config

import (
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/relay/pkg/logger"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

//nolint:gochecknoglobals // reflect type lookups
var (
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	durationType        = reflect.TypeOf(time.Duration(0))
)

// EnvConfigLoader fills a config struct from environment variables named
// after its json tags, joined by underscores under a prefix:
// RELAY_DATABASE_URL sets Database.URL.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates a new environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader. A <prefix>CONFIG_JSON variable holding the
// whole document takes precedence over individual variables.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if raw := os.Getenv(e.prefix + "CONFIG_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.debug("Loaded configuration from CONFIG_JSON")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	e.fill(v.Elem(), e.prefix)
	e.debug("Loaded configuration from environment variables")

	return nil
}

func (e *EnvConfigLoader) debug(msg string) {
	if e.logger != nil {
		e.logger.Debug().Str("prefix", e.prefix).Msg(msg)
	}
}

// fill walks the settable json-tagged fields of v and reports whether any of
// them came from the environment. Values that fail to parse are skipped.
func (e *EnvConfigLoader) fill(v reflect.Value, prefix string) bool {
	t := v.Type()
	found := false

	for i := range t.NumField() {
		field := v.Field(i)

		name, ok := envFieldName(t.Field(i))
		if !ok || !field.CanSet() {
			continue
		}

		key := prefix + name

		if isNestedStruct(field.Type()) {
			found = e.fillNested(field, key+"_") || found
			continue
		}

		raw := os.Getenv(key)
		if raw == "" {
			continue
		}

		if err := assign(field, raw); err != nil {
			if e.logger != nil {
				e.logger.Warn().Err(err).Str("env", key).Msg("Ignoring unparsable environment variable")
			}

			continue
		}

		found = true
	}

	return found
}

// fillNested only allocates a nil struct pointer when something under it is
// set, so optional sections such as TLS stay nil.
func (e *EnvConfigLoader) fillNested(field reflect.Value, prefix string) bool {
	if field.Kind() != reflect.Ptr {
		return e.fill(field, prefix)
	}

	if !field.IsNil() {
		return e.fill(field.Elem(), prefix)
	}

	fresh := reflect.New(field.Type().Elem())
	if !e.fill(fresh.Elem(), prefix) {
		return false
	}

	field.Set(fresh)

	return true
}

func envFieldName(sf reflect.StructField) (string, bool) {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return "", false
	}

	return strings.ToUpper(strings.ReplaceAll(name, ".", "_")), true
}

// isNestedStruct excludes structs that parse themselves from text.
func isNestedStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Kind() == reflect.Struct && !reflect.PointerTo(t).Implements(textUnmarshalerType)
}

// assign parses raw into field. Scalars use strconv, string slices are comma
// separated, and anything else is decoded as JSON.
func assign(field reflect.Value, raw string) error {
	if field.Kind() == reflect.Ptr {
		fresh := reflect.New(field.Type().Elem())
		if err := assign(fresh.Elem(), raw); err != nil {
			return err
		}

		field.Set(fresh)

		return nil
	}

	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(raw))
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		field.SetInt(int64(d))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
		return nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err == nil {
			field.SetBool(b)
		}

		return err
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err == nil {
			field.SetInt(n)
		}

		return err
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err == nil {
			field.SetUint(n)
		}

		return err
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err == nil {
			field.SetFloat(f)
		}

		return err
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}

			field.Set(reflect.ValueOf(parts).Convert(field.Type()))

			return nil
		}
	default:
	}

	return json.Unmarshal([]byte(raw), field.Addr().Interface())
}

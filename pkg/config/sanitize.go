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
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

var errNotAStruct = errors.New("input must be a struct or pointer to struct")

// FilterSensitiveFields converts cfg into a map keyed by json field names,
// leaving out every field tagged `sensitive:"true"`.
func FilterSensitiveFields(cfg interface{}) (map[string]interface{}, error) {
	if cfg == nil {
		return map[string]interface{}{}, nil
	}

	result, ok := filterRecursively(reflect.ValueOf(cfg)).(map[string]interface{})
	if !ok {
		return nil, errNotAStruct
	}

	return result, nil
}

func filterRecursively(rv reflect.Value) interface{} {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}

		// Types with their own JSON form are kept as they are.
		if _, ok := rv.Interface().(json.Marshaler); ok {
			return rv.Interface()
		}

		rv = rv.Elem()
	}

	if rv.CanInterface() {
		if _, ok := rv.Interface().(json.Marshaler); ok {
			return rv.Interface()
		}
	}

	switch rv.Kind() {
	case reflect.Struct:
		rt := rv.Type()
		result := make(map[string]interface{}, rt.NumField())

		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)

			if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
				continue
			}

			jsonTag := field.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}

			name := field.Name
			if tagName, _, _ := strings.Cut(jsonTag, ","); tagName != "" {
				name = tagName
			}

			result[name] = filterRecursively(rv.Field(i))
		}

		return result
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}

		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = filterRecursively(rv.Index(i))
		}

		return result
	case reflect.Map:
		result := make(map[string]interface{}, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			if key, ok := iter.Key().Interface().(string); ok {
				result[key] = filterRecursively(iter.Value())
			}
		}

		return result
	case reflect.Invalid:
		return nil
	default:
		return rv.Interface()
	}
}

// SanitizeForLog marshals cfg without its sensitive fields.
func SanitizeForLog(cfg interface{}) ([]byte, error) {
	safeData, err := FilterSensitiveFields(cfg)
	if err != nil {
		return nil, err
	}

	return json.Marshal(safeData)
}

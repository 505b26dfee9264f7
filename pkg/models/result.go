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

package models

// Result is the tagged outcome every hub operation returns. Failures carry a
// human-readable reason and never a value.
type Result[T any] struct {
	IsSuccess bool   `json:"is_success"`
	Reason    string `json:"reason,omitempty"`
	Value     T      `json:"value,omitempty"`
}

// OK wraps a successful value.
func OK[T any](value T) Result[T] {
	return Result[T]{IsSuccess: true, Value: value}
}

// Fail builds a failed result with the zero value.
func Fail[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

// Status is a Result without a payload.
type Status struct {
	IsSuccess bool   `json:"is_success"`
	Reason    string `json:"reason,omitempty"`
}

func Succeeded() Status {
	return Status{IsSuccess: true}
}

func Failed(reason string) Status {
	return Status{Reason: reason}
}

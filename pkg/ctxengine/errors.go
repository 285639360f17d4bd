// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ctxengine

import "errors"

// Sentinel errors for the recoverable conditions named in the core's
// error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can still errors.Is against the class.
var (
	// ErrEncodingUnavailable means the subword tokenizer's encoding
	// could not be loaded. NewTokenEstimator logs it and counts
	// characters/4 from then on; it is not returned to callers.
	ErrEncodingUnavailable = errors.New("ctxengine: token encoding unavailable")

	// ErrReadFailed means a file could not be read from disk.
	ErrReadFailed = errors.New("ctxengine: read failed")

	// ErrResourceUnavailable means a required disk path or resource is
	// missing. Recoverable: the caller falls back to defaults.
	ErrResourceUnavailable = errors.New("ctxengine: resource unavailable")

	// ErrValidationFailed means a configuration or template was
	// rejected by schema validation. The previous configuration stays
	// active.
	ErrValidationFailed = errors.New("ctxengine: validation failed")

	// ErrStrategyFailed means a single compression strategy errored.
	// It is isolated within the Compression Manager, which moves on to
	// the next candidate.
	ErrStrategyFailed = errors.New("ctxengine: compression strategy failed")

	// ErrOptimizationBusy means a configuration optimization cycle was
	// already in progress; the request was dropped rather than queued.
	ErrOptimizationBusy = errors.New("ctxengine: optimization already in progress")

	// ErrPruningBlocked means every remaining pruning candidate is
	// protected by its value score; the context stays over target and
	// the size monitor keeps alerting.
	ErrPruningBlocked = errors.New("ctxengine: all pruning candidates protected")

	// ErrInternal classifies an unexpected failure inside the
	// background loop. It is logged, never propagated; the loop sleeps
	// its backoff and resumes.
	ErrInternal = errors.New("ctxengine: internal background failure")

	// ErrTemplateNotFound means a named config template does not exist
	// in the closed template set.
	ErrTemplateNotFound = errors.New("ctxengine: template not found")

	// ErrVersionNotFound means a requested configuration version has no
	// corresponding file on disk.
	ErrVersionNotFound = errors.New("ctxengine: configuration version not found")
)

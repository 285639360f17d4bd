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

// Package ctxengine assembles, bounds, compresses, and continually
// re-optimizes the structured context sent to downstream language model
// calls so that each call fits a fixed token budget while maximizing
// task-relevant information density.
//
// The package is organized as thirteen cooperating components: a token
// estimator, an importance scorer, a budget allocator, a size monitor, a
// pruning engine, three compression strategies behind a compression
// manager, a mutable context store, a background optimizer, a project
// profiler, a config template manager, a metrics collector, and an
// adaptive config manager. Engine wires all of them behind the
// host-facing API in engine.go.
package ctxengine

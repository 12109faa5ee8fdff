// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package utils provides small filesystem helpers shared by the engine's
// entrypoints.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates a directory (and any missing parents) if it does not
// already exist. Used by the engine CLI to prepare a log file's parent
// directory and the state-store/checkpoint data roots before the
// backends that own them open their files.
func EnsureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path, for
// callers about to open a file for writing (e.g. a log file) at a path
// whose directory may not exist yet.
func EnsureParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return EnsureDir(dir)
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedContentType is returned when no extractor handles a document.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrEmptyDocument is returned when a document yields no text to index.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// IngestError describes which stage of ingestion failed for a document.
type IngestError struct {
	DocumentID string
	Filename   string
	Stage      string
	Err        error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("ingest %s", e.Stage)
	if e.Filename != "" {
		msg += fmt.Sprintf(" (file: %s)", e.Filename)
	}
	return msg + ": " + e.Err.Error()
}

func (e *IngestError) Unwrap() error { return e.Err }

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

package rag

import "strings"

// Chunker splits text into overlapping windows measured in bytes.
//
// A window ends at the last '.' in its second half, otherwise at the last
// space, otherwise at the hard size limit. Each following window starts
// Overlap bytes before the previous end, and always moves forward.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker with sane bounds: size defaults to 1000 and an
// overlap that does not fit inside a window is reduced.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the non-empty, whitespace-trimmed chunks of text.
func (c Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{strings.TrimSpace(text)}
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := start + c.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.boundary(text, start, end)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
		start = runeStart(text, max(start+1, end-c.Overlap), true)
	}
	return chunks
}

// boundary picks the break point of the window text[start:end].
func (c Chunker) boundary(text string, start, end int) int {
	window := text[start:end]
	mid := len(window) / 2
	if i := strings.LastIndexByte(window, '.'); i >= mid {
		return start + i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return start + i
	}
	if cut := runeStart(text, end, false); cut > start {
		return cut
	}
	return runeStart(text, end, true)
}

// runeStart moves i to the nearest UTF-8 sequence start, forward or
// backward, so a window never splits a multi-byte character.
func runeStart(s string, i int, forward bool) int {
	for i > 0 && i < len(s) && s[i]&0xC0 == 0x80 {
		if forward {
			i++
		} else {
			i--
		}
	}
	return i
}

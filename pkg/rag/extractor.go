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
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Content types with dedicated extractors.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// maxSheetCells bounds how many cells are read per spreadsheet sheet.
const maxSheetCells = 10000

// Extractor turns raw document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) { return f(ctx, data) }

// Extractors dispatches on the normalized content type.
type Extractors struct {
	byType map[string]Extractor
}

// DefaultExtractors handles text, JSON, markdown, PDF, DOCX and XLSX.
func DefaultExtractors() *Extractors {
	e := &Extractors{byType: make(map[string]Extractor)}
	text := ExtractorFunc(extractText)
	for _, ct := range []string{"application/json", "application/xml", "application/x-yaml", "application/yaml", "text/*"} {
		e.Register(ct, text)
	}
	e.Register(ContentTypePDF, ExtractorFunc(extractPDF))
	e.Register(ContentTypeDOCX, ExtractorFunc(extractDOCX))
	e.Register(ContentTypeXLSX, ExtractorFunc(extractXLSX))
	return e
}

// Register sets the extractor for a content type. "major/*" matches any
// subtype without a more specific entry.
func (e *Extractors) Register(contentType string, x Extractor) {
	e.byType[contentType] = x
}

// Extract resolves the content type (falling back to the filename extension)
// and runs the matching extractor. It returns the resolved type.
func (e *Extractors) Extract(ctx context.Context, contentType, filename string, data []byte) (string, string, error) {
	ct := DetectContentType(contentType, filename)
	x, ok := e.byType[ct]
	if !ok {
		if major, _, found := strings.Cut(ct, "/"); found {
			x, ok = e.byType[major+"/*"]
		}
	}
	if !ok {
		return "", ct, fmt.Errorf("%w: %q", ErrUnsupportedContentType, ct)
	}
	text, err := x.Extract(ctx, data)
	if err != nil {
		return "", ct, err
	}
	return text, ct, nil
}

var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "application/x-yaml",
	".yml":      "application/x-yaml",
	".pdf":      ContentTypePDF,
	".docx":     ContentTypeDOCX,
	".xlsx":     ContentTypeXLSX,
}

// DetectContentType normalizes a declared content type, inferring it from
// the filename when it is missing or generic.
func DetectContentType(contentType, filename string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mt
		}
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func extractText(_ context.Context, data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func extractPDF(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var pages []string
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

func extractDOCX(_ context.Context, data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	raw = docxParagraphEnd.ReplaceAllString(raw, "\n")
	text := xmlTag.ReplaceAllString(raw, "")
	return strings.TrimSpace(unescapeXML(text)), nil
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string { return xmlEntities.Replace(s) }

func extractXLSX(ctx context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse spreadsheet: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Sheet: %s\n", name)
		cells := 0
	rowLoop:
		for r, row := range rows {
			for c, cell := range row {
				if cells >= maxSheetCells {
					b.WriteString("... (truncated)\n")
					break rowLoop
				}
				if v := strings.TrimSpace(cell); v != "" {
					fmt.Fprintf(&b, "%s%d: %s\n", columnLetter(c), r+1, v)
					cells++
				}
			}
		}
		if cells > 0 {
			sheets = append(sheets, strings.TrimSpace(b.String()))
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}

// columnLetter converts a 0-based column index to A, B, ..., Z, AA, AB, ...
func columnLetter(index int) string {
	var out []byte
	for index >= 0 {
		out = append([]byte{byte('A' + index%26)}, out...)
		index = index/26 - 1
	}
	return string(out)
}

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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/reagent/pkg/agent"
	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/rag"
	"github.com/kadirpekel/reagent/pkg/reasoning"
	"github.com/kadirpekel/reagent/pkg/session"
	"github.com/kadirpekel/reagent/pkg/tools"
	"github.com/kadirpekel/reagent/pkg/vector"
)

const maxChatBody = 1 << 20

type chatResponse struct {
	*agent.ChatResponse
	PersistError string `json:"persist_error,omitempty"`
}

func newChatResponse(resp *agent.ChatResponse) chatResponse {
	out := chatResponse{ChatResponse: resp}
	if resp.PersistError != nil {
		out.PersistError = resp.PersistError.Error()
	}
	return out
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "reagent",
		"version": s.opts.Version,
		"endpoints": []string{
			"POST /chat", "POST /invoke", "POST /stream", "GET /models", "GET /tools",
			"GET /threads", "GET /threads/{id}", "GET /threads/{id}/messages", "DELETE /threads/{id}",
			"POST /documents", "GET /documents", "DELETE /documents/{id}", "GET /health",
		},
	})
}

// handleHealth reports ok only when a provider is selectable and both stores answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	fail := func(name string, err error) {
		checks[name] = "error: " + err.Error()
		healthy = false
	}

	if s.opts.Models != nil {
		if d, err := s.opts.Models.Select(); err != nil {
			fail("provider", err)
		} else {
			checks["provider"] = d.Name + "/" + d.Model
		}
	}
	if _, err := s.opts.Service.Threads(ctx); err != nil {
		fail("conversation_store", err)
	} else {
		checks["conversation_store"] = "ok"
	}
	if s.opts.Index != nil {
		if _, err := s.opts.Index.Documents(ctx, 1); err != nil {
			fail("index", err)
		} else {
			checks["index"] = s.opts.Index.Name()
		}
	}

	status, code := http.StatusOK, "ok"
	if !healthy {
		status, code = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, status, map[string]any{"status": code, "checks": checks})
}

func decodeChatRequest(r *http.Request) (agent.ChatRequest, error) {
	var req agent.ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, agent.ErrEmptyMessage
	}
	if req.ThreadID == "" {
		req.ThreadID = session.NewThreadID()
	}
	return req, nil
}

// invokeRequest is the graph-style envelope accepted by /invoke. The thread id
// in config.configurable wins over the one in input.
type invokeRequest struct {
	Input struct {
		Message  string `json:"message"`
		ThreadID string `json:"thread_id"`
	} `json:"input"`
	Config struct {
		Configurable struct {
			ThreadID string `json:"thread_id"`
		} `json:"configurable"`
	} `json:"config"`
}

func decodeInvokeRequest(r *http.Request) (agent.ChatRequest, error) {
	var in invokeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBody))
	if err := dec.Decode(&in); err != nil {
		return agent.ChatRequest{}, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	req := agent.ChatRequest{Message: in.Input.Message, ThreadID: in.Config.Configurable.ThreadID}
	if req.ThreadID == "" {
		req.ThreadID = in.Input.ThreadID
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, agent.ErrEmptyMessage
	}
	if req.ThreadID == "" {
		req.ThreadID = session.NewThreadID()
	}
	return req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runChat(w, r, req, func(out chatResponse) any { return out })
}

// handleInvoke runs a turn like /chat and wraps the response as {"output": ...}.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, err := decodeInvokeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runChat(w, r, req, func(out chatResponse) any { return map[string]any{"output": out} })
}

func (s *Server) runChat(w http.ResponseWriter, r *http.Request, req agent.ChatRequest, wrap func(chatResponse) any) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	resp, err := s.opts.Service.Chat(ctx, req, nil)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody reads the response.
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrap(newChatResponse(resp)))
}

// streamEvent is one SSE payload.
type streamEvent struct {
	Type         reasoning.EventType       `json:"type"`
	Phase        reasoning.Phase           `json:"phase,omitempty"`
	Step         int                       `json:"step"`
	Message      string                    `json:"message,omitempty"`
	ThreadID     string                    `json:"thread_id"`
	Outcome      reasoning.Outcome         `json:"outcome,omitempty"`
	FinalAnswer  string                    `json:"final_answer,omitempty"`
	Trace        []reasoning.TimelineEntry `json:"trace"`
	Provider     string                    `json:"provider,omitempty"`
	Model        string                    `json:"model,omitempty"`
	PersistError string                    `json:"persist_error,omitempty"`
}

func toStreamEvent(threadID string, ev reasoning.Event) streamEvent {
	out := streamEvent{
		Type:     ev.Type,
		Phase:    ev.Phase,
		Step:     ev.Step,
		Message:  ev.Message,
		ThreadID: threadID,
		Trace:    []reasoning.TimelineEntry{},
	}
	if st := ev.State; st != nil {
		out.Trace = st.Timeline()
		out.Outcome = st.Outcome
		out.FinalAnswer = st.FinalAnswer
		out.Provider = st.Provider
		out.Model = st.Model
	}
	return out
}

// handleStream emits one event per transition. The terminal event is held
// back until the exchange is persisted so it can carry the save result.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	var terminal *streamEvent
	observe := func(ev reasoning.Event) {
		out := toStreamEvent(req.ThreadID, ev)
		if ev.Terminal() {
			terminal = &out
			return
		}
		if err := sse.send(out); err != nil {
			cancel()
		}
	}

	resp, err := s.opts.Service.Chat(ctx, req, observe)
	if r.Context().Err() != nil {
		return
	}
	if resp != nil && resp.PersistError != nil && terminal != nil {
		terminal.PersistError = resp.PersistError.Error()
	}
	if terminal == nil {
		// The turn failed before the engine produced any event.
		msg := "turn failed"
		if err != nil {
			msg = err.Error()
		}
		terminal = &streamEvent{Type: reasoning.EventError, ThreadID: req.ThreadID, Message: msg, Trace: []reasoning.TimelineEntry{}}
	}
	_ = sse.send(*terminal)
}

type modelsResponse struct {
	Selected  *selectedModel    `json:"selected"`
	Error     string            `json:"error,omitempty"`
	Providers []llms.Descriptor `json:"providers"`
}

type selectedModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Models == nil {
		writeJSON(w, http.StatusOK, modelsResponse{Providers: []llms.Descriptor{}})
		return
	}
	out := modelsResponse{Providers: s.opts.Models.Providers()}
	if d, err := s.opts.Models.Select(); err != nil {
		out.Error = err.Error()
	} else {
		out.Selected = &selectedModel{Provider: d.Name, Model: d.Model}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	infos := []tools.ToolInfo{}
	if s.opts.Tools != nil {
		infos = s.opts.Tools.ListTools()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": infos})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.opts.Service.Threads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if threads == nil {
		threads = []session.ThreadSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.opts.Service.History(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	th, err := s.opts.Service.History(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": th.ID, "messages": th.Messages})
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	if err := s.opts.Service.DeleteThread(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	doc, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("%w: limit is %d bytes", errTooLarge, maxErr.Limit)
		}
		writeError(w, err)
		return
	}

	res, err := s.opts.Ingester.Ingest(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// readUpload accepts a multipart "file" field or a raw body named by X-Filename.
func readUpload(r *http.Request) (rag.Document, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return rag.Document{}, fmt.Errorf("%w: missing file field", errBadRequest)
			}
			return rag.Document{}, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return rag.Document{}, err
		}
		return rag.Document{
			ID:          r.FormValue("document_id"),
			Filename:    filepath.Base(header.Filename),
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		return rag.Document{}, fmt.Errorf("%w: X-Filename header is required for raw uploads", errBadRequest)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return rag.Document{}, err
	}
	return rag.Document{
		ID:          r.Header.Get("X-Document-ID"),
		Filename:    filepath.Base(filename),
		ContentType: mediaType,
		Data:        data,
	}, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	docs, err := s.opts.Index.Documents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []vector.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := s.opts.Index.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

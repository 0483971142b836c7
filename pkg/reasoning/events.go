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

package reasoning

// EventType names a state machine transition.
type EventType string

const (
	EventReasoning      EventType = "reasoning"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventSynthesis      EventType = "synthesis"
	EventFinal          EventType = "final"
	EventProviderSwitch EventType = "provider_switch"
	EventParseFallback  EventType = "parse_fallback"
	EventStopped        EventType = "stopped"
	EventError          EventType = "error"
)

// Event is emitted after every transition. State is a snapshot owned by
// the receiver.
type Event struct {
	Type    EventType   `json:"type"`
	Phase   Phase       `json:"phase"`
	Step    int         `json:"step"`
	Message string      `json:"message,omitempty"`
	State   *AgentState `json:"state"`
}

// Observer receives events synchronously on the turn's goroutine.
type Observer func(Event)

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool {
	return e.Type == EventFinal || e.Type == EventStopped || e.Type == EventError
}

// Copyright 2025 Gatewise
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

package gate

// Action kinds gated by the platform
const (
	KindAIReply         = "ai_reply"
	KindPaymentLink     = "payment_link"
	KindBooking         = "booking"
	KindMessageSend     = "message_send"
	KindIntegrationSync = "integration_sync"
	KindSignup          = "signup"
)

// AllKinds lists every gated action kind
var AllKinds = []string{
	KindAIReply,
	KindPaymentLink,
	KindBooking,
	KindMessageSend,
	KindIntegrationSync,
	KindSignup,
}

// personaCapabilities is the static table of which action kinds each
// business persona supports. The table answers "does this kind of
// business do this at all"; tenant toggles then narrow it further. An
// unknown persona falls back to generic.
var personaCapabilities = map[string]map[string]bool{
	"salon": {
		KindAIReply:         true,
		KindPaymentLink:     true,
		KindBooking:         true,
		KindMessageSend:     true,
		KindIntegrationSync: true,
		KindSignup:          true,
	},
	"restaurant": {
		KindAIReply:         true,
		KindPaymentLink:     true,
		KindBooking:         true,
		KindMessageSend:     true,
		KindIntegrationSync: true,
		KindSignup:          true,
	},
	"retailer": {
		KindAIReply:         true,
		KindPaymentLink:     true,
		KindBooking:         false,
		KindMessageSend:     true,
		KindIntegrationSync: true,
		KindSignup:          true,
	},
	"freelancer": {
		KindAIReply:         true,
		KindPaymentLink:     true,
		KindBooking:         true,
		KindMessageSend:     true,
		KindIntegrationSync: false,
		KindSignup:          true,
	},
	"clinic": {
		KindAIReply:         false,
		KindPaymentLink:     true,
		KindBooking:         true,
		KindMessageSend:     true,
		KindIntegrationSync: true,
		KindSignup:          true,
	},
	"generic": {
		KindAIReply:         true,
		KindPaymentLink:     true,
		KindBooking:         true,
		KindMessageSend:     true,
		KindIntegrationSync: true,
		KindSignup:          true,
	},
}

// PersonaSupports reports whether a persona's capability table includes
// the action kind
func PersonaSupports(persona, kind string) bool {
	caps, ok := personaCapabilities[persona]
	if !ok {
		caps = personaCapabilities["generic"]
	}
	return caps[kind]
}

// Personas lists the known persona names
func Personas() []string {
	names := make([]string, 0, len(personaCapabilities))
	for name := range personaCapabilities {
		names = append(names, name)
	}
	return names
}

// ValidKind reports whether a string names a gated action kind
func ValidKind(kind string) bool {
	for _, k := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}

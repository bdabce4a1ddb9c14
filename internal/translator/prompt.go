package translator

import (
	"jarvis-shell/internal/llm"
	"jarvis-shell/internal/profile"
)

// BuildMessages composes the few-shot transcript: the profile's instruction as the
// system turn, each example as a user/assistant pair, then the request.
func BuildMessages(p *profile.Profile, request string) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, 2+2*len(p.Examples))
	messages = append(messages, llm.ChatMessage{Role: "system", Content: p.Instruction})
	for _, ex := range p.Examples {
		messages = append(messages,
			llm.ChatMessage{Role: "user", Content: ex.Request},
			llm.ChatMessage{Role: "assistant", Content: ex.Command},
		)
	}
	return append(messages, llm.ChatMessage{Role: "user", Content: request})
}

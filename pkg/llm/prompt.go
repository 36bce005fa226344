package llm

import (
	"fmt"
	"strings"
)

// ragTemplate grounds the model in the retrieved context and pins the
// refusal wording so ungrounded questions get a predictable reply.
const ragTemplate = `%s

Use ONLY the context below to answer the question.
If the answer is NOT in the context, reply:
"I'm sorry, but the requested information is not available in the provided documents."
%s
Context:
%s

Question:
%s

Answer:
`

// BuildPrompt renders the RAG prompt from the system prompt, retrieved
// context chunks, an optional rendered chat history, and the question.
func BuildPrompt(systemPrompt string, contextChunks []string, history, question string) string {
	historySection := ""
	if history != "" {
		historySection = fmt.Sprintf("\nConversation so far:\n%s\n", history)
	}

	return fmt.Sprintf(ragTemplate,
		systemPrompt,
		historySection,
		strings.Join(contextChunks, "\n\n"),
		question,
	)
}

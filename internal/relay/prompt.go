package relay

import (
	"fmt"
	"strings"

	"SnippetVault/internal/backend"

	openai "github.com/sashabaranov/go-openai"
)

const promptTemplate = `You are Vault Mentor, a senior engineer helping a developer understand a code snippet from their personal vault.

Snippet: %s
Language: %s

` + "```" + `%s
%s
` + "```" + `

Answer questions about this snippet. Useful directions are explaining what it does line by line,
its time and space complexity, how to optimise or modernise it, and interview questions it could
prepare the developer for. Keep answers concise and use Markdown with fenced code blocks.`

// SystemPrompt builds the system message that scopes the chat to one snippet
func SystemPrompt(name, language, code string) string {
	if strings.TrimSpace(name) == "" {
		name = "untitled"
	}
	if strings.TrimSpace(language) == "" {
		language = "plaintext"
	}
	return fmt.Sprintf(promptTemplate, name, language, language, strings.TrimRight(code, "\n"))
}

// buildMessages prepends the system prompt to the chat history
func buildMessages(req backend.ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(req.SnippetName, req.SnippetLanguage, req.SnippetCode),
	})
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

package scorer

import (
	_ "embed"
	"strings"
)

//go:embed prompts/sentiment_system.txt
var sentimentSystemPrompt string

//go:embed prompts/reply_system.txt
var replySystemPrompt string

// SystemPrompt returns the instruction sent ahead of every text
func SystemPrompt() string {
	return strings.TrimSpace(sentimentSystemPrompt)
}

// ReplyPrompt returns the instruction sent ahead of an email that needs a reply
func ReplyPrompt() string {
	return strings.TrimSpace(replySystemPrompt)
}

package prompt

import "errors"

var (
	ErrNoMessages          = errors.New("no messages to render")
	ErrNoUserMessage       = errors.New("no user message in the chat history")
	ErrNoAssistantMessage  = errors.New("assistant message has neither content nor tool calls")
	ErrNoAvailableTools    = errors.New("no available tools")
	ErrUnsupportedContent  = errors.New("unsupported content part")
	ErrUnknownTemplateType = errors.New("unknown prompt template type")
)

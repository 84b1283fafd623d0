package prompt

import (
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// functionary31 renders the Functionary v3.1 contract: llama-3.1
// headers with <function=name>{args}</function> calls.
type functionary31 struct{}

func (functionary31) Build(messages api.Messages) (string, error) {
	return functionary31{}.BuildWithTools(messages, nil)
}

func (functionary31) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var sys strings.Builder
	sys.WriteString("Environment: ipython\n\nCutting Knowledge Date: December 2023\n\n")
	if len(tools) > 0 {
		sys.WriteString("You have access to the following functions:\n\n")
		for _, t := range tools {
			fmt.Fprintf(&sys, "Use the function '%s' to '%s'\n%s\n\n", t.Function.Name, t.Function.Description, string(t.Function.Parameters))
		}
		sys.WriteString("Think very carefully before calling functions.\n" +
			"If you choose to call a function ONLY reply in the following format:\n" +
			"<{start_tag}={function_name}>{parameters}{end_tag}\n" +
			"where\n\n" +
			"start_tag => `<function`\n" +
			"parameters => a JSON dict with the function argument name as key and function argument value as value.\n" +
			"end_tag => `</function>`\n\n" +
			"Reminder:\n" +
			"- Function calls MUST follow the specified format\n" +
			"- Required parameters MUST be specified\n" +
			"- Only call one function at a time\n" +
			"- Put the entire function call reply on one line\n")
	}
	if system != "" {
		sys.WriteString("\n" + system)
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", strings.TrimSpace(sys.String()))

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>", text)
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call := msg.ToolCalls[0].Function
				fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n<function=%s>%s</function><|eot_id|>", call.Name, strings.TrimSpace(call.Arguments))
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n%s<|eot_id|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<|start_header_id|>ipython<|end_header_id|>\n\n%s<|eot_id|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("<|start_header_id|>assistant<|end_header_id|>")
	return b.String(), nil
}

// functionary32 renders the Functionary v3.2 contract with the
// recipient-prefixed >>> output format and TypeScript-like function
// declarations.
type functionary32 struct{}

func (functionary32) Build(messages api.Messages) (string, error) {
	return functionary32{}.BuildWithTools(messages, nil)
}

func (functionary32) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var sys strings.Builder
	sys.WriteString("You are capable of executing available function(s) if required.\n" +
		"Only execute function(s) when absolutely necessary.\n" +
		"Ask for the required input to:recipient==all\n" +
		"Use JSON for function arguments.\n" +
		"Respond in this format:\n" +
		">>>${recipient}\n" +
		"${content}\n" +
		"Available functions:\n")
	sys.WriteString("// Supported function definitions that should be called when necessary.\n")
	sys.WriteString("namespace functions {\n\n")
	for _, t := range tools {
		if t.Function.Description != "" {
			fmt.Fprintf(&sys, "// %s\n", t.Function.Description)
		}
		fmt.Fprintf(&sys, "type %s = (_: %s) => any;\n\n", t.Function.Name, string(t.Function.Parameters))
	}
	sys.WriteString("} // namespace functions")
	if system != "" {
		sys.WriteString("\n\n" + system)
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", sys.String())

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>", text)
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call := msg.ToolCalls[0].Function
				fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n>>>%s\n%s<|eot_id|>", call.Name, strings.TrimSpace(call.Arguments))
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n>>>all\n%s<|eot_id|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<|start_header_id|>tool<|end_header_id|>\n\n%s<|eot_id|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("<|start_header_id|>assistant<|end_header_id|>")
	return b.String(), nil
}

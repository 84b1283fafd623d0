package prompt

import (
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// llama2Chat renders the [INST]/<<SYS>> scheme used by Llama 2 chat
// models.
type llama2Chat struct{}

const llama2DefaultSystem = "You are a helpful, respectful and honest assistant. Always answer as short as possible, while being safe."

func (llama2Chat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = llama2DefaultSystem
	}
	sysBlock := fmt.Sprintf("<<SYS>>\n%s\n<</SYS>>", system)

	var b strings.Builder
	first := true
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if first {
				fmt.Fprintf(&b, "<s>[INST] %s\n\n%s [/INST]", sysBlock, text)
				first = false
			} else {
				fmt.Fprintf(&b, "<s>[INST] %s [/INST]", text)
			}
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, " %s </s>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<s>[INST] %s [/INST]", strings.TrimSpace(msg.Content))
		}
	}

	return b.String(), nil
}

// llama3Chat renders the header-id scheme used by Llama 3 chat models.
type llama3Chat struct{}

func (llama3Chat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")

	system, rest := splitSystem(messages)
	if system != "" {
		fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", system)
	}

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>", text)
		case api.AssistantMessage:
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

// llama3Tool is the Llama 3.1 JSON function calling contract.
type llama3Tool struct{}

func (llama3Tool) Build(messages api.Messages) (string, error) {
	return llama3Chat{}.Build(messages)
}

func (llama3Tool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	if len(tools) == 0 {
		return "", ErrNoAvailableTools
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = "You are a helpful assistant with tool calling capabilities."
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", system)

	preface := "Given the following functions, please respond with a JSON for a function call with its proper arguments that best answers the given prompt.\n\n" +
		"Respond in the format {\"name\": function name, \"parameters\": dictionary of argument name and its value}. Do not use variables.\n\n" +
		toolsJSON(tools)

	last := lastUserIndex(rest)
	for i, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if i == last {
				fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s\n\nQuestion: %s<|eot_id|>", preface, text)
			} else {
				fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>", text)
			}
		case api.AssistantMessage:
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

// llama4Chat renders the Llama 4 header scheme, including its
// <function=name>{args}</function> tool contract.
type llama4Chat struct{}

func (llama4Chat) Build(messages api.Messages) (string, error) {
	return llama4Chat{}.render(messages, "")
}

func (llama4Chat) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(tools) == 0 {
		return "", ErrNoAvailableTools
	}

	preface := "You have access to the following functions:\n\n" + toolsJSON(tools) + "\n\n" +
		"If you choose to call a function, reply in the following format:\n" +
		"<function=example_function_name>{\"example_name\": \"example_value\"}</function>"
	return llama4Chat{}.render(messages, preface)
}

func (llama4Chat) render(messages api.Messages, toolPreface string) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if toolPreface != "" {
		if system != "" {
			system += "\n\n"
		}
		system += toolPreface
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	if system != "" {
		fmt.Fprintf(&b, "<|header_start|>system<|header_end|>\n\n%s<|eot|>", system)
	}

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|header_start|>user<|header_end|>\n\n%s<|eot|>", text)
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call := msg.ToolCalls[0].Function
				fmt.Fprintf(&b, "<|header_start|>assistant<|header_end|>\n\n<function=%s>%s</function><|eot|>", call.Name, strings.TrimSpace(call.Arguments))
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|header_start|>assistant<|header_end|>\n\n%s<|eot|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<|header_start|>ipython<|header_end|>\n\n%s<|eot|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("<|header_start|>assistant<|header_end|>")
	return b.String(), nil
}

// codeLlamaInstruct is llama2Chat with a code-oriented default system
// prompt.
type codeLlamaInstruct struct{}

const codeLlamaDefaultSystem = "Write code to solve the following coding problem that obeys the constraints and passes the example test cases. Please wrap your code answer using ```:"

func (codeLlamaInstruct) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	if _, ok := messages[0].(api.SystemMessage); !ok {
		messages = append(api.Messages{api.SystemMessage{Content: codeLlamaDefaultSystem}}, messages...)
	}
	return llama2Chat{}.Build(messages)
}

// groqLlama3Tool is Groq's fine-tuned llama-3 tool calling scheme with
// <tools> and <tool_call> XML delimiters.
type groqLlama3Tool struct{}

func (groqLlama3Tool) Build(messages api.Messages) (string, error) {
	return groqLlama3Tool{}.BuildWithTools(messages, nil)
}

func (groqLlama3Tool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = "You are a function calling AI model."
	}
	if len(tools) > 0 {
		system += " You are provided with function signatures within <tools></tools> XML tags. You may call one or more functions to assist with the user query. Don't make assumptions about what values to plug into functions. For each function call return a json object with function name and arguments within <tool_call></tool_call> XML tags as follows:\n" +
			"<tool_call>\n{\"name\": <function-name>,\"arguments\": <args-dict>}\n</tool_call>\n\n" +
			"Here are the available tools:\n<tools> " + toolsJSONCompact(tools) + " </tools>"
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", system)

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
				call, err := assistantText(msg)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n<tool_call>\n%s\n</tool_call><|eot_id|>", call)
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start_header_id|>assistant<|end_header_id|>\n\n%s<|eot_id|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<|start_header_id|>tool<|end_header_id|>\n\n<tool_response>\n%s\n</tool_response><|eot_id|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("<|start_header_id|>assistant<|end_header_id|>")
	return b.String(), nil
}

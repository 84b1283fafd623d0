// Package prompt lowers chat histories into model-specific prompt
// strings. Every model family gets one renderer, selected by a closed
// TemplateType enumeration; rendering is deterministic so that equal
// inputs always produce byte-identical prompts.
package prompt

import (
	"fmt"
	"math"
	"slices"

	"github.com/agnivade/levenshtein"
	"golang.org/x/exp/maps"

	"github.com/LlamaEdge/llama-api-server/api"
)

type TemplateType string

const (
	TemplateLlama2Chat        TemplateType = "llama-2-chat"
	TemplateLlama3Chat        TemplateType = "llama-3-chat"
	TemplateLlama3Tool        TemplateType = "llama-3-tool"
	TemplateLlama4Chat        TemplateType = "llama-4-chat"
	TemplateCodeLlama         TemplateType = "codellama-instruct"
	TemplateMistralInstruct   TemplateType = "mistral-instruct"
	TemplateMistralLite       TemplateType = "mistrallite"
	TemplateMistralTool       TemplateType = "mistral-tool"
	TemplateMistralSmallChat  TemplateType = "mistral-small-chat"
	TemplateMistralSmallTool  TemplateType = "mistral-small-tool"
	TemplateChatML            TemplateType = "chatml"
	TemplateChatMLTool        TemplateType = "chatml-tool"
	TemplateQwen2Vision       TemplateType = "qwen2-vision"
	TemplateQwen3NoThink      TemplateType = "qwen-3-no-think"
	TemplateInternLM2Tool     TemplateType = "internlm-2-tool"
	TemplatePhi2Instruct      TemplateType = "phi-2-instruct"
	TemplatePhi3Chat          TemplateType = "phi-3-chat"
	TemplatePhi4Chat          TemplateType = "phi-4-chat"
	TemplateGemmaInstruct     TemplateType = "gemma-instruct"
	TemplateGemma3            TemplateType = "gemma-3"
	TemplateVicunaChat        TemplateType = "vicuna-1.0-chat"
	TemplateVicuna11Chat      TemplateType = "vicuna-1.1-chat"
	TemplateVicunaLlava       TemplateType = "vicuna-llava"
	TemplateFunctionary31     TemplateType = "functionary-31"
	TemplateFunctionary32     TemplateType = "functionary-32"
	TemplateGroqLlama3Tool    TemplateType = "groq-llama3-tool"
	TemplateGptOss            TemplateType = "gpt-oss"
	TemplateOpenChat          TemplateType = "openchat"
	TemplateZephyr            TemplateType = "zephyr"
	TemplateStableLMZephyr    TemplateType = "stablelm-zephyr"
	TemplateDeepSeekChat      TemplateType = "deepseek-chat"
	TemplateDeepSeekChat3     TemplateType = "deepseek-chat-3"
	TemplateDeepSeekCoder     TemplateType = "deepseek-coder"
	TemplateSolarInstruct     TemplateType = "solar-instruct"
	TemplateIntelNeural       TemplateType = "intel-neural"
	TemplateHumanAssistant    TemplateType = "human-assistant"
	TemplateWizardCoder       TemplateType = "wizard-coder"
	TemplateGlm4Chat          TemplateType = "glm-4-chat"
	TemplateOctopus           TemplateType = "octopus"
	TemplateNemotronChat      TemplateType = "nemotron-chat"
	TemplateNemotronTool      TemplateType = "nemotron-tool"

	// Sentinels for graphs that never render chat prompts.
	TemplateEmbedding TemplateType = "embedding"
	TemplateTts       TemplateType = "tts"
	TemplateNull      TemplateType = "null"
)

// Template renders a message history into a prompt string.
type Template interface {
	Build(messages api.Messages) (string, error)
}

// ToolTemplate additionally renders an available-tools preface.
type ToolTemplate interface {
	Template
	BuildWithTools(messages api.Messages, tools []api.Tool) (string, error)
}

var registry = map[TemplateType]func() Template{
	TemplateLlama2Chat:       func() Template { return llama2Chat{} },
	TemplateLlama3Chat:       func() Template { return llama3Chat{} },
	TemplateLlama3Tool:       func() Template { return llama3Tool{} },
	TemplateLlama4Chat:       func() Template { return llama4Chat{} },
	TemplateCodeLlama:        func() Template { return codeLlamaInstruct{} },
	TemplateMistralInstruct:  func() Template { return mistralInstruct{} },
	TemplateMistralLite:      func() Template { return mistralLite{} },
	TemplateMistralTool:      func() Template { return mistralTool{} },
	TemplateMistralSmallChat: func() Template { return mistralSmallChat{} },
	TemplateMistralSmallTool: func() Template { return mistralSmallTool{} },
	TemplateChatML:           func() Template { return chatML{} },
	TemplateChatMLTool:       func() Template { return chatMLTool{} },
	TemplateQwen2Vision:      func() Template { return qwen2Vision{} },
	TemplateQwen3NoThink:     func() Template { return qwen3NoThink{} },
	TemplateInternLM2Tool:    func() Template { return internLM2Tool{} },
	TemplatePhi2Instruct:     func() Template { return phi2Instruct{} },
	TemplatePhi3Chat:         func() Template { return phi3Chat{} },
	TemplatePhi4Chat:         func() Template { return phi4Chat{} },
	TemplateGemmaInstruct:    func() Template { return gemmaInstruct{} },
	TemplateGemma3:           func() Template { return gemma3{} },
	TemplateVicunaChat:       func() Template { return vicunaChat{} },
	TemplateVicuna11Chat:     func() Template { return vicuna11Chat{} },
	TemplateVicunaLlava:      func() Template { return vicunaLlava{} },
	TemplateFunctionary31:    func() Template { return functionary31{} },
	TemplateFunctionary32:    func() Template { return functionary32{} },
	TemplateGroqLlama3Tool:   func() Template { return groqLlama3Tool{} },
	TemplateGptOss:           func() Template { return gptOss{} },
	TemplateOpenChat:         func() Template { return openChat{} },
	TemplateZephyr:           func() Template { return zephyr{} },
	TemplateStableLMZephyr:   func() Template { return stableLMZephyr{} },
	TemplateDeepSeekChat:     func() Template { return deepSeekChat{} },
	TemplateDeepSeekChat3:    func() Template { return deepSeekChat3{} },
	TemplateDeepSeekCoder:    func() Template { return deepSeekCoder{} },
	TemplateSolarInstruct:    func() Template { return solarInstruct{} },
	TemplateIntelNeural:      func() Template { return intelNeural{} },
	TemplateHumanAssistant:   func() Template { return humanAssistant{} },
	TemplateWizardCoder:      func() Template { return wizardCoder{} },
	TemplateGlm4Chat:         func() Template { return glm4Chat{} },
	TemplateOctopus:          func() Template { return octopus{} },
	TemplateNemotronChat:     func() Template { return nemotronChat{} },
	TemplateNemotronTool:     func() Template { return nemotronTool{} },
}

// Types lists every renderable template tag in sorted order.
func Types() []TemplateType {
	types := maps.Keys(registry)
	slices.Sort(types)
	return types
}

// Parse validates a template tag from configuration. Sentinel tags
// parse but do not render.
func Parse(s string) (TemplateType, error) {
	tt := TemplateType(s)
	switch tt {
	case TemplateEmbedding, TemplateTts, TemplateNull:
		return tt, nil
	}

	if _, ok := registry[tt]; ok {
		return tt, nil
	}

	// Suggest the closest known tag to catch config typos.
	best, score := TemplateType(""), math.MaxInt
	for _, known := range Types() {
		if d := levenshtein.ComputeDistance(s, string(known)); d < score {
			best, score = known, d
		}
	}

	if best != "" && score <= 5 {
		return "", fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownTemplateType, s, best)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTemplateType, s)
}

// New returns the renderer for the given tag. Sentinel tags have no
// renderer.
func New(tt TemplateType) (Template, error) {
	if f, ok := registry[tt]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplateType, string(tt))
}

// Build renders messages with the renderer for tag.
func Build(tt TemplateType, messages api.Messages) (string, error) {
	tmpl, err := New(tt)
	if err != nil {
		return "", err
	}
	return tmpl.Build(messages)
}

// BuildWithTools renders messages with an available-tools preface.
// Templates without tool support reject non-empty tools.
func BuildWithTools(tt TemplateType, messages api.Messages, tools []api.Tool) (string, error) {
	tmpl, err := New(tt)
	if err != nil {
		return "", err
	}

	if len(tools) == 0 {
		return tmpl.Build(messages)
	}

	tt2, ok := tmpl.(ToolTemplate)
	if !ok {
		return "", fmt.Errorf("%w: template %q does not support tools", ErrNoAvailableTools, string(tt))
	}
	return tt2.BuildWithTools(messages, tools)
}

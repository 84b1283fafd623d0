package api

// TranscriptionRequest covers /v1/audio/transcriptions. The file
// itself arrives either as a multipart part or as a previously
// uploaded file id.
type TranscriptionRequest struct {
	File           string   `json:"file,omitempty"`
	Model          string   `json:"model,omitempty"`
	Language       string   `json:"language,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`

	DetectLanguage bool `json:"detect_language,omitempty"`
	OffsetTime     int  `json:"offset_time,omitempty"`
	Duration       int  `json:"duration,omitempty"`
	MaxContext     int  `json:"max_context,omitempty"`
	MaxLen         int  `json:"max_len,omitempty"`
	SplitOnWord    bool `json:"split_on_word,omitempty"`
}

type TranslationRequest struct {
	File           string   `json:"file,omitempty"`
	Model          string   `json:"model,omitempty"`
	Language       string   `json:"language,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

type TranscriptionObject struct {
	Text string `json:"text"`
}

type SpeechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
}

package registry

// ModelInfo is one entry in the /v1/info snapshot.
type ModelInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	PromptTemplate string `json:"prompt_template,omitempty"`
	CtxSize        uint64 `json:"ctx_size,omitempty"`
	BatchSize      uint64 `json:"batch_size,omitempty"`
}

// ServerInfo is the introspection record served at /v1/info.
type ServerInfo struct {
	Version string      `json:"version"`
	Mode    RunningMode `json:"running_mode"`
	Models  []ModelInfo `json:"models"`
}

// Info assembles a snapshot of the loaded models.
func (r *Registry) Info(version string) ServerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := ServerInfo{Version: version, Mode: r.mode}

	for _, name := range r.chatNames {
		meta := r.chat[name].Metadata()
		info.Models = append(info.Models, ModelInfo{
			Name:           name,
			Type:           "chat",
			PromptTemplate: string(meta.PromptTemplate),
			CtxSize:        meta.CtxSize,
			BatchSize:      meta.BatchSize,
		})
	}
	for _, name := range r.embeddingNames {
		meta := r.embedding[name].Metadata()
		info.Models = append(info.Models, ModelInfo{
			Name:      name,
			Type:      "embedding",
			CtxSize:   meta.CtxSize,
			BatchSize: meta.BatchSize,
		})
	}
	if r.audio != nil {
		info.Models = append(info.Models, ModelInfo{Name: r.audio.Name(), Type: "audio"})
	}
	if r.speech != nil {
		info.Models = append(info.Models, ModelInfo{Name: r.speech.Name(), Type: "tts"})
	}
	if r.textToImage != nil {
		info.Models = append(info.Models, ModelInfo{Name: r.textToImage.Name(), Type: "image"})
	}

	return info
}

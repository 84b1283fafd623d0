package api

// ImageCreateRequest is an OpenAI-compatible image generation request.
type ImageCreateRequest struct {
	Model          string   `json:"model,omitempty"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	N              int      `json:"n,omitempty"`
	Size           string   `json:"size,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"`
	Steps          int      `json:"steps,omitempty"`
	User           string   `json:"user,omitempty"`
}

// ImageEditRequest is an OpenAI-compatible image edit request. The
// source image arrives as a multipart part.
type ImageEditRequest struct {
	Image          string   `json:"image,omitempty"`
	Prompt         string   `json:"prompt"`
	Mask           string   `json:"mask,omitempty"`
	Model          string   `json:"model,omitempty"`
	N              int      `json:"n,omitempty"`
	Size           string   `json:"size,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
	User           string   `json:"user,omitempty"`
}

type ImageObject struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type ImageResponse struct {
	Created int64         `json:"created"`
	Data    []ImageObject `json:"data"`
}

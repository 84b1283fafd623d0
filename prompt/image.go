package prompt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	"github.com/LlamaEdge/llama-api-server/api"
)

// sniffImageFormat identifies the format of decoded image bytes among
// the set the vision runtimes accept. Formats with stdlib or x/image
// decoders go through image.DecodeConfig; tga, hdr and pnm have no Go
// decoder and are matched on their headers.
func sniffImageFormat(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte("#?RADIANCE")) || bytes.HasPrefix(data, []byte("#?RGBE")):
		return "hdr", nil
	case len(data) >= 2 && data[0] == 'P' && data[1] >= '1' && data[1] <= '7':
		return "pnm", nil
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		switch format {
		case "png", "jpeg", "gif", "bmp":
			return format, nil
		}
	}

	// TGA carries no magic number; check the legacy header fields.
	if len(data) >= 18 && data[1] <= 1 {
		switch data[2] {
		case 1, 2, 3, 9, 10, 11:
			return "tga", nil
		}
	}

	return "", ErrUnsupportedContent
}

// imageEmbed renders an image part for an HTML-style vision template:
// remote URLs become a bare placeholder token, inline base64 payloads
// are sniffed and re-wrapped as a data URI image element.
func imageEmbed(p api.ImagePart) (string, error) {
	if strings.HasPrefix(p.URL, "http://") || strings.HasPrefix(p.URL, "https://") {
		return "<image>", nil
	}

	payload := p.URL
	if idx := strings.Index(payload, ";base64,"); idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrUnsupportedContent
	}

	format, err := sniffImageFormat(raw)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`<img src="data:image/%s;base64,%s">`, format, payload), nil
}

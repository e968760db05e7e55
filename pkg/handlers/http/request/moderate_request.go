package request

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/modguard/modguard/pkg/domain/moderation"
)

// ModerationInput is one content item in the wire format. Exactly one of
// Text or Image must be set; Image accepts plain base64 or a data URI.
type ModerationInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type ModerateRequest struct {
	Inputs       []ModerationInput  `json:"inputs"`
	Thresholds   map[string]float64 `json:"thresholds,omitempty"`
	ReturnScores *bool              `json:"return_scores,omitempty"`
}

const maxImageBytes = 10 * 1024 * 1024

// ToDomain validates the wire request and converts it into the immutable
// domain request.
func (r *ModerateRequest) ToDomain() (*moderation.Request, error) {
	if len(r.Inputs) == 0 {
		return nil, fmt.Errorf("inputs must contain at least one item")
	}

	items := make([]moderation.ContentItem, 0, len(r.Inputs))
	for i, input := range r.Inputs {
		switch {
		case input.Text != "" && input.Image != "":
			return nil, fmt.Errorf("inputs[%d]: text and image are mutually exclusive", i)
		case input.Text != "":
			items = append(items, moderation.ContentItem{
				Kind: moderation.ContentKindText,
				Text: input.Text,
			})
		case input.Image != "":
			data, err := decodeImage(input.Image)
			if err != nil {
				return nil, fmt.Errorf("inputs[%d]: %w", i, err)
			}
			items = append(items, moderation.ContentItem{
				Kind:  moderation.ContentKindImage,
				Image: data,
			})
		default:
			return nil, fmt.Errorf("inputs[%d]: either text or image is required", i)
		}
	}

	return &moderation.Request{Items: items, Thresholds: r.Thresholds}, nil
}

// WantScores defaults to true when return_scores is omitted.
func (r *ModerateRequest) WantScores() bool {
	return r.ReturnScores == nil || *r.ReturnScores
}

func decodeImage(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("invalid data URI format")
		}
		encoded = encoded[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type fingerprintInput struct {
	Provider    string    `json:"p,omitempty"`
	Model       string    `json:"m,omitempty"`
	MaxTokens   int       `json:"t,omitempty"`
	Temperature string    `json:"temp,omitempty"`
	Messages    []Message `json:"msgs"`
}

// Fingerprint derives the cache key of a request from its normalized messages and options.
func Fingerprint(req *CompletionRequest) string {
	if req == nil {
		return ""
	}

	input := fingerprintInput{
		Provider:  req.Provider,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  make([]Message, 0, len(req.Messages)),
	}
	if req.Temperature != 0 {
		input.Temperature = fmt.Sprintf("%.2f", req.Temperature)
	}
	for _, msg := range req.Messages {
		input.Messages = append(input.Messages, Message{
			Role:    strings.ToLower(strings.TrimSpace(msg.Role)),
			Content: strings.TrimSpace(msg.Content),
		})
	}

	data, err := json.Marshal(input)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", input))
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("cache:%s", hex.EncodeToString(hash[:]))
}

package process

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func conversationEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoding, encodingErr
}

// CountTokens estimates the token size of the conversation window: the
// enriched system prompt plus every message's text and tool payloads. It is
// a local estimate, not the provider's accounting.
func (p *Process) CountTokens() (int, error) {
	enc, err := conversationEncoding()
	if err != nil {
		return 0, fmt.Errorf("load token encoding: %w", err)
	}

	total := len(enc.Encode(p.EnrichedSystemPrompt(), nil, nil))
	for _, msg := range p.Messages() {
		for _, blk := range msg.Blocks {
			if blk.Text != "" {
				total += len(enc.Encode(blk.Text, nil, nil))
			}
			if blk.Content != "" {
				total += len(enc.Encode(blk.Content, nil, nil))
			}
			if len(blk.Input) > 0 {
				total += len(enc.Encode(string(blk.Input), nil, nil))
			}
		}
	}
	return total, nil
}

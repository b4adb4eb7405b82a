package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

type gotoArgs struct {
	Position string `json:"position" jsonschema:"description=The message identifier to return to (for example msg_2)"`
	Message  string `json:"message,omitempty" jsonschema:"description=A new message to continue the conversation with after the reset"`
}

// Goto rewinds the conversation to an earlier message. The target message is
// kept; everything after it is removed. When a continuation message is
// supplied, a single combined user message follows the target: a system
// note, the abandoned user direction wrapped in <ignored> tags, and the new
// direction wrapped in <time_travel> tags. Only backwards movement is
// allowed.
func Goto() *tools.Definition {
	return tools.FuncDef("goto",
		"Reset the conversation to a previous point in time. position identifies the message to return to (message identifiers look like msg_0, msg_1, ...); message optionally restates the goal for the fresh start.",
		tools.AccessRead,
		func(_ context.Context, args gotoArgs, rc *tools.RuntimeContext) *models.ToolResult {
			if args.Position == "" {
				return models.ErrorResult("Error: position is required")
			}
			index, err := models.ParseMessageID(args.Position)
			if err != nil {
				return models.ErrorResultf("Error: Invalid position %q: message identifiers look like msg_0, msg_1, ...", args.Position)
			}

			log := rc.Process.Messages()
			if index >= len(log) {
				return models.ErrorResultf("Error: Message %s does not exist; the conversation has %d messages", args.Position, len(log))
			}
			if index >= len(log)-1 {
				return models.ErrorResult("Error: Can only go back to a previous message, not forward")
			}

			// The direction being abandoned: the first user message after
			// the target.
			abandoned := ""
			for _, msg := range log[index+1:] {
				if msg.Role == models.RoleUser {
					if text := msg.Text(); text != "" {
						abandoned = text
						break
					}
				}
			}

			removed := rc.Process.Rewind(index + 1)
			if args.Message == "" {
				return &models.ToolResult{
					Content: fmt.Sprintf("Conversation reset to message %s. %d messages were removed.", args.Position, removed),
				}
			}

			note := fmt.Sprintf("[SYSTEM NOTE: Conversation reset to message %s. %d messages were removed.]", args.Position, removed)
			parts := []string{note}
			if abandoned != "" && !strings.Contains(abandoned, "<time_travel>") {
				parts = append(parts, fmt.Sprintf("<ignored>\n%s\n</ignored>", abandoned))
			}
			parts = append(parts, fmt.Sprintf("<time_travel>\n%s\n</time_travel>", stripTimeTravelTags(args.Message)))
			rc.Process.AppendUserMessage(strings.Join(parts, "\n\n"))

			return &models.ToolResult{
				Content: fmt.Sprintf("Conversation reset to message %s. Added time travel message.", args.Position),
			}
		}).Requires(tools.Capabilities{Process: true})
}

// stripTimeTravelTags removes pre-existing framing so nesting never occurs.
func stripTimeTravelTags(s string) string {
	s = strings.ReplaceAll(s, "<time_travel>", "")
	s = strings.ReplaceAll(s, "</time_travel>", "")
	return strings.TrimSpace(s)
}

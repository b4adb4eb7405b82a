package process

import (
	"log/slog"

	"github.com/cccntu/llmproc/pkg/models"
)

// Callbacks observes one process. Every field is optional; registered sets
// fire in registration order. Observer failures never affect the run: a
// panicking callback is logged and swallowed.
type Callbacks struct {
	// TurnStart fires before each provider request with the 1-based turn
	// number.
	TurnStart func(turn int)
	// TurnEnd fires after the turn's tool dispatch completes.
	TurnEnd func(turn int)
	// ToolStart fires before a tool executes, with the advertised name.
	ToolStart func(name string, input []byte)
	// ToolEnd fires after a tool executes.
	ToolEnd func(name string, result *models.ToolResult)
	// Response fires for each assistant text response.
	Response func(text string)
	// APIResponse fires with the raw provider response of each turn.
	APIResponse func(resp *models.ProviderResponse)
}

type callbackSet struct {
	sets   []*Callbacks
	logger *slog.Logger
}

func (cs *callbackSet) fire(name string, f func(cb *Callbacks)) {
	for _, cb := range cs.sets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cs.logger.Warn("callback panicked", "callback", name, "panic", r)
				}
			}()
			f(cb)
		}()
	}
}

func (cs *callbackSet) turnStart(turn int) {
	cs.fire("TurnStart", func(cb *Callbacks) {
		if cb.TurnStart != nil {
			cb.TurnStart(turn)
		}
	})
}

func (cs *callbackSet) turnEnd(turn int) {
	cs.fire("TurnEnd", func(cb *Callbacks) {
		if cb.TurnEnd != nil {
			cb.TurnEnd(turn)
		}
	})
}

func (cs *callbackSet) toolStart(name string, input []byte) {
	cs.fire("ToolStart", func(cb *Callbacks) {
		if cb.ToolStart != nil {
			cb.ToolStart(name, input)
		}
	})
}

func (cs *callbackSet) toolEnd(name string, result *models.ToolResult) {
	cs.fire("ToolEnd", func(cb *Callbacks) {
		if cb.ToolEnd != nil {
			cb.ToolEnd(name, result)
		}
	})
}

func (cs *callbackSet) response(text string) {
	cs.fire("Response", func(cb *Callbacks) {
		if cb.Response != nil {
			cb.Response(text)
		}
	})
}

func (cs *callbackSet) apiResponse(resp *models.ProviderResponse) {
	cs.fire("APIResponse", func(cb *Callbacks) {
		if cb.APIResponse != nil {
			cb.APIResponse(resp)
		}
	})
}

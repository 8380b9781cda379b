package agent

import "github.com/haasonsaas/steward/pkg/models"

// Result content synthesized for tool calls whose results never arrived,
// such as a gated call whose approval request was abandoned until it
// expired.
const unresolvedResultContent = "Tool execution was not completed."

// repairWindow normalizes a history window before the model sees it.
// Providers reject transcripts where an assistant tool call has no matching
// tool result. Missing results are synthesized as errors in call order and
// results that match no preceding call are dropped.
func repairWindow(window []models.Message) []models.Message {
	if len(window) == 0 {
		return window
	}

	pending := make(map[string]struct{})
	order := make([]string, 0)
	repaired := make([]models.Message, 0, len(window))
	sessionID := window[0].SessionID

	flush := func() {
		for _, id := range order {
			if _, ok := pending[id]; !ok {
				continue
			}
			repaired = append(repaired, models.Message{
				SessionID: sessionID,
				Role:      models.RoleTool,
				ToolResults: []models.ToolResult{{
					ToolCallID: id,
					Content:    unresolvedResultContent,
					IsError:    true,
				}},
			})
			delete(pending, id)
		}
		order = order[:0]
	}

	for _, msg := range window {
		switch msg.Role {
		case models.RoleAssistant:
			flush()
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				pending[call.ID] = struct{}{}
				order = append(order, call.ID)
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			kept := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				if _, ok := pending[result.ToolCallID]; !ok {
					continue
				}
				delete(pending, result.ToolCallID)
				kept = append(kept, result)
			}
			if len(kept) == 0 {
				continue
			}
			msg.ToolResults = kept
			repaired = append(repaired, msg)
		default:
			flush()
			repaired = append(repaired, msg)
		}
	}
	flush()

	return repaired
}

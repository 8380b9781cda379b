package agent

import (
	"testing"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestRepairWindowSynthesizesMissingResults(t *testing.T) {
	window := []models.Message{
		{SessionID: "s", Role: models.RoleUser, Content: "restart it"},
		{SessionID: "s", Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "restart_service"},
		}},
		{SessionID: "s", Role: models.RoleUser, Content: "never mind"},
	}

	repaired := repairWindow(window)
	if len(repaired) != 4 {
		t.Fatalf("repaired length = %d, want 4", len(repaired))
	}
	synth := repaired[2]
	if synth.Role != models.RoleTool || len(synth.ToolResults) != 1 {
		t.Fatalf("repaired[2] = %+v, want synthesized tool result", synth)
	}
	result := synth.ToolResults[0]
	if result.ToolCallID != "call-1" || !result.IsError || result.Content != unresolvedResultContent {
		t.Errorf("synthesized result = %+v", result)
	}
	if repaired[3].Role != models.RoleUser {
		t.Errorf("repaired[3].Role = %q, want user", repaired[3].Role)
	}
}

func TestRepairWindowSynthesizesTrailingResults(t *testing.T) {
	window := []models.Message{
		{SessionID: "s", Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "restart_service"},
			{ID: "call-2", Name: "lookup_status"},
		}},
		{SessionID: "s", Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "call-2", Content: "ok"},
		}},
	}

	repaired := repairWindow(window)
	if len(repaired) != 3 {
		t.Fatalf("repaired length = %d, want 3", len(repaired))
	}
	last := repaired[2]
	if last.Role != models.RoleTool || len(last.ToolResults) != 1 || last.ToolResults[0].ToolCallID != "call-1" {
		t.Errorf("trailing synthesized message = %+v", last)
	}
}

func TestRepairWindowDropsOrphanResults(t *testing.T) {
	window := []models.Message{
		{SessionID: "s", Role: models.RoleUser, Content: "hi"},
		{SessionID: "s", Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "call-99", Content: "stale"},
		}},
	}

	repaired := repairWindow(window)
	if len(repaired) != 1 || repaired[0].Role != models.RoleUser {
		t.Errorf("repaired = %+v, want only the user message", repaired)
	}
}

func TestRepairWindowLeavesCleanTranscriptAlone(t *testing.T) {
	window := []models.Message{
		{SessionID: "s", Role: models.RoleUser, Content: "status?"},
		{SessionID: "s", Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "lookup_status"},
		}},
		{SessionID: "s", Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "call-1", Content: "nominal"},
		}},
		{SessionID: "s", Role: models.RoleAssistant, Content: "All good."},
	}

	repaired := repairWindow(window)
	if len(repaired) != len(window) {
		t.Fatalf("repaired length = %d, want %d", len(repaired), len(window))
	}
	for i := range window {
		if repaired[i].Role != window[i].Role {
			t.Errorf("repaired[%d].Role = %q, want %q", i, repaired[i].Role, window[i].Role)
		}
	}
}

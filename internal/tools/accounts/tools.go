package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// GetTool looks up a single account by ID.
type GetTool struct {
	store *Store
}

// NewGetTool creates an account lookup tool.
func NewGetTool(store *Store) *GetTool {
	return &GetTool{store: store}
}

// Name returns the tool name.
func (t *GetTool) Name() string { return "get_account" }

// Description describes the tool.
func (t *GetTool) Description() string {
	return "Fetches an account record by its ID."
}

// Schema defines the tool parameters.
func (t *GetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Account ID to look up"}
  },
  "required": ["account_id"]
}`)
}

// Risk classifies the tool as low risk.
func (t *GetTool) Risk() models.RiskLevel { return models.RiskLow }

// Execute runs the lookup.
func (t *GetTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var params struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}

	acct, err := t.store.Get(params.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &tools.Result{Content: "account not found: " + params.AccountID, IsError: true}, nil
		}
		return nil, err
	}

	payload, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("failed to encode account: %v", err), IsError: true}, nil
	}
	return &tools.Result{Content: string(payload)}, nil
}

// ManageTool changes an account's plan or active state. High risk: the
// change is visible to the customer, so it requires approval.
type ManageTool struct {
	store *Store
}

// NewManageTool creates an account management tool.
func NewManageTool(store *Store) *ManageTool {
	return &ManageTool{store: store}
}

// Name returns the tool name.
func (t *ManageTool) Name() string { return "manage_user" }

// Description describes the tool.
func (t *ManageTool) Description() string {
	return "Updates an account: changes the subscription plan, or activates/deactivates the account."
}

// Schema defines the tool parameters.
func (t *ManageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Account ID to update"},
    "action": {"type": "string", "enum": ["activate", "deactivate", "change_plan"], "description": "Operation to perform"},
    "plan": {"type": "string", "description": "Target plan, required for change_plan"}
  },
  "required": ["account_id", "action"]
}`)
}

// Risk classifies the tool as high risk.
func (t *ManageTool) Risk() models.RiskLevel { return models.RiskHigh }

// Execute applies the account change.
func (t *ManageTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var params struct {
		AccountID string `json:"account_id"`
		Action    string `json:"action"`
		Plan      string `json:"plan"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}

	if params.Action == "change_plan" && params.Plan == "" {
		return &tools.Result{Content: "plan is required for change_plan", IsError: true}, nil
	}

	acct, err := t.store.Update(params.AccountID, func(a *Account) {
		switch params.Action {
		case "activate":
			a.Active = true
		case "deactivate":
			a.Active = false
		case "change_plan":
			a.Plan = params.Plan
		}
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &tools.Result{Content: "account not found: " + params.AccountID, IsError: true}, nil
		}
		return nil, err
	}

	payload, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("failed to encode account: %v", err), IsError: true}, nil
	}
	return &tools.Result{Content: string(payload)}, nil
}

// DeleteTool permanently removes an account. High risk: destructive and
// irreversible, so it always requires approval.
type DeleteTool struct {
	store *Store
}

// NewDeleteTool creates an account deletion tool.
func NewDeleteTool(store *Store) *DeleteTool {
	return &DeleteTool{store: store}
}

// Name returns the tool name.
func (t *DeleteTool) Name() string { return "delete_account" }

// Description describes the tool.
func (t *DeleteTool) Description() string {
	return "Permanently deletes an account and all of its data. This cannot be undone."
}

// Schema defines the tool parameters.
func (t *DeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Account ID to delete"}
  },
  "required": ["account_id"]
}`)
}

// Risk classifies the tool as high risk.
func (t *DeleteTool) Risk() models.RiskLevel { return models.RiskHigh }

// Execute deletes the account.
func (t *DeleteTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var params struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}

	if err := t.store.Delete(params.AccountID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &tools.Result{Content: "account not found: " + params.AccountID, IsError: true}, nil
		}
		return nil, err
	}

	return &tools.Result{Content: "account " + params.AccountID + " deleted"}, nil
}

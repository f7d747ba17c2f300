package monitor

import (
	"context"

	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/registry"
)

// Control is the operator-facing surface over the registry and the cycle.
// Both the HTTP control plane and the chat commands use it.
type Control struct {
	registry *registry.Registry
	cycle    *Cycle
}

// NewControl creates a control surface.
func NewControl(reg *registry.Registry, cycle *Cycle) *Control {
	return &Control{registry: reg, cycle: cycle}
}

// AddAccount starts monitoring username and relaying to channelID.
func (c *Control) AddAccount(ctx context.Context, username, channelID string) (model.Account, error) {
	return c.registry.Add(ctx, username, channelID)
}

// RemoveAccount stops monitoring username.
func (c *Control) RemoveAccount(ctx context.Context, username string) error {
	return c.registry.Remove(ctx, username)
}

// SetEnabled pauses or resumes an account.
func (c *Control) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return c.registry.SetEnabled(ctx, username, enabled)
}

// ListAccounts returns every registered account.
func (c *Control) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return c.registry.List(ctx)
}

// ImportAccounts upserts a batch of accounts.
func (c *Control) ImportAccounts(ctx context.Context, accounts []model.Account) (int, error) {
	return c.registry.Import(ctx, accounts)
}

// CycleStatus reports per-account watermark state.
func (c *Control) CycleStatus(ctx context.Context) (model.CycleStatus, error) {
	return c.cycle.Status(ctx)
}

// RunCycle runs one monitoring cycle now and waits for it. Under
// PolicySerialize it returns ErrCycleRunning while another cycle is running.
func (c *Control) RunCycle(ctx context.Context) (Result, error) {
	return c.cycle.TryRun(ctx)
}

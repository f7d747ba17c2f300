package telegram

import (
	"context"
	"fmt"
	"testing"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/registry"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	accounts map[string]model.Account
	status   model.CycleStatus
}

func (f *fakeControl) AddAccount(_ context.Context, username, channelID string) (model.Account, error) {
	username = registry.NormalizeUsername(username)
	a := model.Account{Username: username, ChannelID: channelID, Enabled: true}
	f.accounts[username] = a
	return a, nil
}

func (f *fakeControl) RemoveAccount(_ context.Context, username string) error {
	username = registry.NormalizeUsername(username)
	if _, ok := f.accounts[username]; !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, username)
	}
	delete(f.accounts, username)
	return nil
}

func (f *fakeControl) ListAccounts(context.Context) ([]model.Account, error) {
	out := make([]model.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeControl) CycleStatus(context.Context) (model.CycleStatus, error) {
	return f.status, nil
}

const adminID = 42

func newTestCommands() (*Commands, *fakeControl) {
	control := &fakeControl{accounts: map[string]model.Account{}}
	return NewCommands(nil, adminID, control, logging.Discard()), control
}

func TestCommandsRejectOtherUsers(t *testing.T) {
	c, control := newTestCommands()

	reply := c.Handle(context.Background(), 7, "add_account", "alice @ch")
	require.Equal(t, "Access denied.", reply)
	require.Empty(t, control.accounts)
}

func TestCommandsAddListRemove(t *testing.T) {
	c, control := newTestCommands()
	ctx := context.Background()

	require.Equal(t, "Added @alice, relaying to @ch.", c.Handle(ctx, adminID, "add_account", "@Alice @ch"))
	require.Contains(t, control.accounts, "alice")

	require.Contains(t, c.Handle(ctx, adminID, "list_accounts", ""), "@alice -> @ch (enabled)")

	require.Equal(t, "Removed @alice.", c.Handle(ctx, adminID, "remove_account", "alice"))
	require.Equal(t, "@alice is not monitored.", c.Handle(ctx, adminID, "remove_account", "alice"))
	require.Equal(t, "No accounts configured.", c.Handle(ctx, adminID, "list_accounts", ""))
}

func TestCommandsUsage(t *testing.T) {
	c, _ := newTestCommands()
	ctx := context.Background()

	require.Contains(t, c.Handle(ctx, adminID, "add_account", "alice"), "Usage")
	require.Contains(t, c.Handle(ctx, adminID, "remove_account", ""), "Usage")
	require.Contains(t, c.Handle(ctx, adminID, "start", ""), "/add_account")
	require.Contains(t, c.Handle(ctx, adminID, "bogus", ""), "Unknown command")
}

func TestCommandsStatus(t *testing.T) {
	c, control := newTestCommands()
	control.status = model.CycleStatus{
		TotalAccounts:   2,
		EnabledAccounts: 1,
		Accounts: map[string]model.AccountStatus{
			"bob":   {Enabled: false, ChannelID: "@b"},
			"alice": {Enabled: true, ChannelID: "@a", LastPostID: "p9", SeenStoryCount: 3},
		},
	}

	reply := c.Handle(context.Background(), adminID, "status", "")
	require.Contains(t, reply, "Accounts: 2 (1 enabled)")
	require.Contains(t, reply, "@alice\nlast post: p9\nstories seen: 3")
	require.Contains(t, reply, "@bob\nlast post: none\nstories seen: 0\n(disabled)")
}

// Package registry manages the list of monitored accounts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/instarelay/internal/database"
	"github.com/bryan-buckman/instarelay/internal/model"
)

// ErrNotFound is returned for operations on an unknown username.
var ErrNotFound = errors.New("account not found")

// ErrInvalid is returned when a username or channel id is empty.
var ErrInvalid = errors.New("invalid account")

// AccountStore is the subset of database.Store the registry needs.
type AccountStore interface {
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, username string) (*model.Account, error)
	UpsertAccount(ctx context.Context, account model.Account) error
	DeleteAccount(ctx context.Context, username string) (bool, error)
	SetAccountEnabled(ctx context.Context, username string, enabled bool) (bool, error)
}

// Registry reads the store on every call so changes show up on the next
// monitoring tick.
type Registry struct {
	store AccountStore
}

// New creates a registry over the given store.
func New(store AccountStore) *Registry {
	return &Registry{store: store}
}

// NormalizeUsername trims whitespace, a leading "@" and lowercases.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// Add registers or re-targets an account. New and updated accounts are enabled.
func (r *Registry) Add(ctx context.Context, username, channelID string) (model.Account, error) {
	username = NormalizeUsername(username)
	channelID = strings.TrimSpace(channelID)
	if username == "" || channelID == "" {
		return model.Account{}, fmt.Errorf("%w: username and channel are required", ErrInvalid)
	}
	account := model.Account{Username: username, ChannelID: channelID, Enabled: true}
	if err := r.store.UpsertAccount(ctx, account); err != nil {
		return model.Account{}, fmt.Errorf("save account %s: %w", username, err)
	}
	return account, nil
}

// Import upserts a batch of accounts keeping their enabled flag. The whole
// batch is validated first; an invalid entry means nothing is written.
func (r *Registry) Import(ctx context.Context, accounts []model.Account) (int, error) {
	batch := make([]model.Account, len(accounts))
	for i, a := range accounts {
		a.Username = NormalizeUsername(a.Username)
		a.ChannelID = strings.TrimSpace(a.ChannelID)
		if a.Username == "" || a.ChannelID == "" {
			return 0, fmt.Errorf("%w: entry %d has an empty username or channel", ErrInvalid, i+1)
		}
		batch[i] = a
	}

	imported := 0
	for _, a := range batch {
		if err := r.store.UpsertAccount(ctx, a); err != nil {
			return imported, fmt.Errorf("save account %s: %w", a.Username, err)
		}
		imported++
	}
	return imported, nil
}

// Remove deletes an account. Its watermarks are left in place.
func (r *Registry) Remove(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	deleted, err := r.store.DeleteAccount(ctx, username)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", username, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return nil
}

// SetEnabled toggles monitoring for an account.
func (r *Registry) SetEnabled(ctx context.Context, username string, enabled bool) error {
	username = NormalizeUsername(username)
	found, err := r.store.SetAccountEnabled(ctx, username, enabled)
	if err != nil {
		return fmt.Errorf("update account %s: %w", username, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return nil
}

// Get returns one account.
func (r *Registry) Get(ctx context.Context, username string) (model.Account, error) {
	username = NormalizeUsername(username)
	a, err := r.store.GetAccount(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		return model.Account{}, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return model.Account{}, err
	}
	return *a, nil
}

// List returns all accounts ordered by username.
func (r *Registry) List(ctx context.Context) ([]model.Account, error) {
	return r.store.GetAccounts(ctx)
}

// Enabled returns only the accounts that should be monitored.
func (r *Registry) Enabled(ctx context.Context) ([]model.Account, error) {
	all, err := r.store.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]model.Account, 0, len(all))
	for _, a := range all {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

// Package accountsfile handles importing and exporting account lists as YAML.
package accountsfile

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bryan-buckman/instarelay/internal/model"
	"gopkg.in/yaml.v3"
)

// Document is the root of an account list file. Accounts may be listed flat
// with their own channel, or grouped under a channel.
type Document struct {
	Title      string    `yaml:"title,omitempty"`
	ExportedAt string    `yaml:"exported_at,omitempty"`
	Channels   []Channel `yaml:"channels,omitempty"`
	Accounts   []Entry   `yaml:"accounts,omitempty"`
}

// Channel groups the accounts relayed into one destination.
type Channel struct {
	Channel  string  `yaml:"channel"`
	Accounts []Entry `yaml:"accounts"`
}

// Entry is a single account. Enabled defaults to true when omitted.
type Entry struct {
	Username  string `yaml:"username"`
	ChannelID string `yaml:"channel_id,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty"`
}

// Parse reads a document and returns a flat list of accounts.
func Parse(r io.Reader) ([]model.Account, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}

	var accounts []model.Account
	for _, e := range doc.Accounts {
		if e.ChannelID == "" {
			return nil, fmt.Errorf("account %q has no channel_id", e.Username)
		}
		accounts = append(accounts, e.account(e.ChannelID))
	}
	for _, ch := range doc.Channels {
		if ch.Channel == "" {
			return nil, fmt.Errorf("channel group without a channel")
		}
		for _, e := range ch.Accounts {
			channel := ch.Channel
			if e.ChannelID != "" {
				channel = e.ChannelID
			}
			accounts = append(accounts, e.account(channel))
		}
	}
	return accounts, nil
}

func (e Entry) account(channel string) model.Account {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return model.Account{Username: e.Username, ChannelID: channel, Enabled: enabled}
}

// Export writes accounts grouped by channel, sorted by channel then username.
func Export(title string, accounts []model.Account) ([]byte, error) {
	doc := Document{
		Title:      title,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}

	groups := make(map[string][]Entry)
	for _, a := range accounts {
		enabled := a.Enabled
		groups[a.ChannelID] = append(groups[a.ChannelID], Entry{Username: a.Username, Enabled: &enabled})
	}

	channels := make([]string, 0, len(groups))
	for ch := range groups {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	for _, ch := range channels {
		entries := groups[ch]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
		doc.Channels = append(doc.Channels, Channel{Channel: ch, Accounts: entries})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode accounts file: %w", err)
	}
	return out, nil
}

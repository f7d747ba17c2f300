package accountsfile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseFlatAndGrouped(t *testing.T) {
	input := `
title: test
accounts:
  - username: alice
    channel_id: "@alice_ch"
channels:
  - channel: "-100123"
    accounts:
      - username: bob
        enabled: false
      - username: carol
        channel_id: "@override"
`
	accounts, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []model.Account{
		{Username: "alice", ChannelID: "@alice_ch", Enabled: true},
		{Username: "bob", ChannelID: "-100123", Enabled: false},
		{Username: "carol", ChannelID: "@override", Enabled: true},
	}, accounts)
}

func TestParseRejectsMissingChannel(t *testing.T) {
	_, err := Parse(strings.NewReader("accounts:\n  - username: alice\n"))
	require.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	accounts, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestExportThenParse(t *testing.T) {
	in := []model.Account{
		{Username: "zed", ChannelID: "@b", Enabled: true},
		{Username: "amy", ChannelID: "@b", Enabled: false},
		{Username: "kim", ChannelID: "@a", Enabled: true},
	}
	out, err := Export("instarelay accounts", in)
	require.NoError(t, err)
	require.Contains(t, string(out), "title: instarelay accounts")

	parsed, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, []model.Account{
		{Username: "kim", ChannelID: "@a", Enabled: true},
		{Username: "amy", ChannelID: "@b", Enabled: false},
		{Username: "zed", ChannelID: "@b", Enabled: true},
	}, parsed)
}

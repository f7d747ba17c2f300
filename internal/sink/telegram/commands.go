package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/registry"
)

// Control is the account surface the operator commands act on.
type Control interface {
	AddAccount(ctx context.Context, username, channelID string) (model.Account, error)
	RemoveAccount(ctx context.Context, username string) error
	ListAccounts(ctx context.Context) ([]model.Account, error)
	CycleStatus(ctx context.Context) (model.CycleStatus, error)
}

const helpText = `Instagram relay bot

/add_account <username> <channel_id> - start relaying an account
/remove_account <username> - stop relaying an account
/list_accounts - show monitored accounts
/status - show relay state`

// Commands answers operator commands sent to the bot in a private chat.
// Only AdminID may use them.
type Commands struct {
	bot     *tgbotapi.BotAPI
	adminID int64
	control Control
	logger  logging.Logger
}

// NewCommands creates the command handler.
func NewCommands(bot *tgbotapi.BotAPI, adminID int64, control Control, logger logging.Logger) *Commands {
	return &Commands{bot: bot, adminID: adminID, control: control, logger: logger}
}

// Run long-polls for updates until ctx is cancelled.
func (c *Commands) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)
	c.logger.WithField("admin_user_id", c.adminID).Info("Listening for operator commands")

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := update.Message
			if msg == nil || !msg.IsCommand() || msg.From == nil {
				continue
			}
			reply := c.Handle(ctx, msg.From.ID, msg.Command(), msg.CommandArguments())
			out := tgbotapi.NewMessage(msg.Chat.ID, truncate(reply, MaxTextLength))
			if _, err := c.bot.Send(out); err != nil {
				c.logger.WithError(err).WithField("command", msg.Command()).Warn("Failed to reply to command")
			}
		}
	}
}

// Handle runs one command for userID and returns the reply text.
func (c *Commands) Handle(ctx context.Context, userID int64, command, args string) string {
	if c.adminID == 0 || userID != c.adminID {
		c.logger.WithFields(logging.Fields{"user_id": userID, "command": command}).Warn("Rejected command from unauthorized user")
		return "Access denied."
	}

	fields := strings.Fields(args)
	switch command {
	case "start", "help":
		return helpText
	case "add_account":
		if len(fields) != 2 {
			return "Usage: /add_account <username> <channel_id>"
		}
		account, err := c.control.AddAccount(ctx, fields[0], fields[1])
		if errors.Is(err, registry.ErrInvalid) {
			return "Usage: /add_account <username> <channel_id>"
		}
		if err != nil {
			return c.failed("add account", err)
		}
		return fmt.Sprintf("Added @%s, relaying to %s.", account.Username, account.ChannelID)
	case "remove_account":
		if len(fields) != 1 {
			return "Usage: /remove_account <username>"
		}
		err := c.control.RemoveAccount(ctx, fields[0])
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Sprintf("@%s is not monitored.", registry.NormalizeUsername(fields[0]))
		}
		if err != nil {
			return c.failed("remove account", err)
		}
		return fmt.Sprintf("Removed @%s.", registry.NormalizeUsername(fields[0]))
	case "list_accounts":
		accounts, err := c.control.ListAccounts(ctx)
		if err != nil {
			return c.failed("list accounts", err)
		}
		return formatAccounts(accounts)
	case "status":
		status, err := c.control.CycleStatus(ctx)
		if err != nil {
			return c.failed("read status", err)
		}
		return formatStatus(status)
	default:
		return "Unknown command. Send /start for help."
	}
}

func (c *Commands) failed(action string, err error) string {
	c.logger.WithError(err).Errorf("Operator command failed to %s", action)
	return fmt.Sprintf("Failed to %s: %v", action, err)
}

func formatAccounts(accounts []model.Account) string {
	if len(accounts) == 0 {
		return "No accounts configured."
	}
	var b strings.Builder
	b.WriteString("Monitored accounts:\n")
	for _, a := range accounts {
		state := "enabled"
		if !a.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "\n@%s -> %s (%s)", a.Username, a.ChannelID, state)
	}
	return b.String()
}

func formatStatus(status model.CycleStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Accounts: %d (%d enabled)", status.TotalAccounts, status.EnabledAccounts)
	if !status.LastCycleFinished.IsZero() {
		fmt.Fprintf(&b, "\nLast cycle: %s", status.LastCycleFinished.UTC().Format("2006-01-02 15:04:05 MST"))
	}

	names := make([]string, 0, len(status.Accounts))
	for name := range status.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := status.Accounts[name]
		lastPost := s.LastPostID
		if lastPost == "" {
			lastPost = "none"
		}
		fmt.Fprintf(&b, "\n\n@%s\nlast post: %s\nstories seen: %d", name, lastPost, s.SeenStoryCount)
		if !s.Enabled {
			b.WriteString("\n(disabled)")
		}
	}
	return b.String()
}

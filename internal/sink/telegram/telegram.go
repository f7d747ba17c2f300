// Package telegram delivers relayed content through the Telegram Bot API and
// serves the operator chat commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/media"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/sink"
)

// Telegram message limits, in characters. Callers are expected to fit
// their text; anything longer is cut here as a last resort.
const (
	MaxTextLength    = sink.MaxTextLength
	MaxCaptionLength = sink.MaxCaptionLength
)

// Config configures a Sink.
type Config struct {
	Token string

	// APIEndpoint overrides the Bot API URL. It is either a full format
	// string ("https://host/bot%s/%s") or a base URL.
	APIEndpoint string
	HTTPClient  *http.Client

	// Fetcher downloads photos and videos before upload. When nil the URL is
	// handed to Telegram as is.
	Fetcher media.Fetcher
	Logger  logging.Logger
}

// Sink sends messages with a Telegram bot.
type Sink struct {
	bot     *tgbotapi.BotAPI
	fetcher media.Fetcher
	logger  logging.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New connects to the Bot API and verifies the token.
func New(cfg Config) (*Sink, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint(cfg.APIEndpoint), client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.WithField("bot", bot.Self.UserName).Info("Connected to Telegram")
	return &Sink{bot: bot, fetcher: cfg.Fetcher, logger: logger}, nil
}

// Bot exposes the underlying client for the command loop.
func (s *Sink) Bot() *tgbotapi.BotAPI {
	return s.bot
}

func endpoint(raw string) string {
	switch {
	case raw == "":
		return tgbotapi.APIEndpoint
	case strings.Contains(raw, "%s"):
		return raw
	default:
		return strings.TrimRight(raw, "/") + "/bot%s/%s"
	}
}

// chatTarget splits a channel id into a numeric chat id or an @username.
func chatTarget(channelID string) (int64, string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return 0, "", errors.New("empty channel id")
	}
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return id, "", nil
	}
	if !strings.HasPrefix(channelID, "@") {
		channelID = "@" + channelID
	}
	return 0, channelID, nil
}

func setTarget(chat *tgbotapi.BaseChat, id int64, username string) {
	chat.ChatID = id
	chat.ChannelUsername = username
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// SendText sends a plain text message.
func (s *Sink) SendText(ctx context.Context, channelID, text string) error {
	id, username, err := chatTarget(channelID)
	if err != nil {
		return &sink.Error{Op: "send text", ChannelID: channelID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &sink.Error{Op: "send text", ChannelID: channelID, Err: err}
	}
	msg := tgbotapi.NewMessage(id, truncate(text, MaxTextLength))
	setTarget(&msg.BaseChat, id, username)
	if _, err := s.bot.Send(msg); err != nil {
		return &sink.Error{Op: "send text", ChannelID: channelID, Err: err}
	}
	return nil
}

// SendPhoto sends a single photo with a caption.
func (s *Sink) SendPhoto(ctx context.Context, channelID, url, caption string) error {
	id, username, err := chatTarget(channelID)
	if err != nil {
		return &sink.Error{Op: "send photo", ChannelID: channelID, Err: err}
	}
	file, err := s.file(ctx, url)
	if err != nil {
		return &sink.Error{Op: "send photo", ChannelID: channelID, Err: err}
	}
	photo := tgbotapi.NewPhoto(id, file)
	setTarget(&photo.BaseChat, id, username)
	photo.Caption = truncate(caption, MaxCaptionLength)
	if _, err := s.bot.Send(photo); err != nil {
		return &sink.Error{Op: "send photo", ChannelID: channelID, Err: err}
	}
	return nil
}

// SendVideo sends a single video with a caption.
func (s *Sink) SendVideo(ctx context.Context, channelID, url, caption string) error {
	id, username, err := chatTarget(channelID)
	if err != nil {
		return &sink.Error{Op: "send video", ChannelID: channelID, Err: err}
	}
	file, err := s.file(ctx, url)
	if err != nil {
		return &sink.Error{Op: "send video", ChannelID: channelID, Err: err}
	}
	video := tgbotapi.NewVideo(id, file)
	setTarget(&video.BaseChat, id, username)
	video.Caption = truncate(caption, MaxCaptionLength)
	video.SupportsStreaming = true
	if _, err := s.bot.Send(video); err != nil {
		return &sink.Error{Op: "send video", ChannelID: channelID, Err: err}
	}
	return nil
}

// SendAlbum sends up to sink.MaxAlbumSize entries as one media group.
func (s *Sink) SendAlbum(ctx context.Context, channelID string, entries []sink.AlbumEntry) error {
	id, username, err := chatTarget(channelID)
	if err != nil {
		return &sink.Error{Op: "send album", ChannelID: channelID, Err: err}
	}
	if len(entries) == 0 {
		return &sink.Error{Op: "send album", ChannelID: channelID, Err: errors.New("no entries")}
	}
	if len(entries) > sink.MaxAlbumSize {
		entries = entries[:sink.MaxAlbumSize]
	}
	if err := ctx.Err(); err != nil {
		return &sink.Error{Op: "send album", ChannelID: channelID, Err: err}
	}

	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		var data tgbotapi.RequestFileData = tgbotapi.FileURL(e.URL)
		if e.File != nil {
			data = tgbotapi.FileBytes{Name: e.File.Name, Bytes: e.File.Data}
		}
		caption := truncate(e.Caption, MaxCaptionLength)
		if e.Type == model.MediaVideo {
			v := tgbotapi.NewInputMediaVideo(data)
			v.Caption = caption
			v.SupportsStreaming = true
			items = append(items, v)
			continue
		}
		p := tgbotapi.NewInputMediaPhoto(data)
		p.Caption = caption
		items = append(items, p)
	}

	group := tgbotapi.NewMediaGroup(id, items)
	group.ChannelUsername = username
	if _, err := s.bot.SendMediaGroup(group); err != nil {
		return &sink.Error{Op: "send album", ChannelID: channelID, Err: err}
	}
	return nil
}

func (s *Sink) file(ctx context.Context, url string) (tgbotapi.RequestFileData, error) {
	if s.fetcher == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return tgbotapi.FileURL(url), nil
	}
	f, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.Fields{"url": url, "bytes": len(f.Data)}).Debug("Downloaded media")
	return tgbotapi.FileBytes{Name: f.Name, Bytes: f.Data}, nil
}

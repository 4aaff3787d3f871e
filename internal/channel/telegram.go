package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/ratelimit"
	"github.com/felii30/angel-and-mortal-bot/internal/relay"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Transport over the Bot API and feeds inbound
// updates to a handler.
type Telegram struct {
	token       string
	pollTimeout int

	bot     *tgbotapi.BotAPI
	api     botAPI
	bucket  *ratelimit.Bucket
	backoff time.Duration
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token             string
	PollTimeout       int // seconds
	SendRatePerMinute float64
	SendBurst         int
	Logger            *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = telegramPollTimeout
	}
	return &Telegram{
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeout,
		bucket:      ratelimit.NewBucket(cfg.SendBurst, cfg.SendRatePerMinute),
		backoff:     time.Second,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the token and returns the bot's own username.
func (t *Telegram) Connect() (string, error) {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return "", fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.api = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return bot.Self.UserName, nil
}

// Run polls for updates until ctx is cancelled, passing each converted update
// to handle in arrival order. Connect must have succeeded.
func (t *Telegram) Run(ctx context.Context, handle func(relay.Update)) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				t.answerCallback(update.CallbackQuery)
			}
			if ru, ok := convertUpdate(update); ok {
				handle(ru)
			}
		}
	}
}

// answerCallback stops the client spinner and strips the buttons so a menu
// can only be used once.
func (t *Telegram) answerCallback(cq *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		t.logger.Debug("callback ack failed", "err", err)
	}
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cq.Message.Chat.ID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := t.api.Request(edit); err != nil {
		t.logger.Debug("clear keyboard failed", "err", err)
	}
}

// convertUpdate maps a Bot API update to a relay.Update. Updates with no
// chat, such as edited messages and inline queries, are dropped.
func convertUpdate(update tgbotapi.Update) (relay.Update, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
			return relay.Update{}, false
		}
		return relay.Update{
			ChatID:   cq.Message.Chat.ID,
			Username: cq.From.UserName,
			Callback: cq.Data,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return relay.Update{}, false
	}
	ru := relay.Update{ChatID: msg.Chat.ID, Username: msg.Chat.UserName}
	if msg.From != nil && msg.From.UserName != "" {
		ru.Username = msg.From.UserName
	}

	if msg.IsCommand() {
		ru.Command = strings.ToLower(msg.Command())
		ru.Args = msg.CommandArguments()
		return ru, true
	}
	c := contentOf(msg)
	ru.Content = &c
	return ru, true
}

// contentOf extracts the relayable payload. An unknown message type yields a
// zero Content, which the engine rejects as unsupported.
func contentOf(msg *tgbotapi.Message) domain.Content {
	switch {
	case msg.Text != "":
		return domain.Content{Kind: domain.KindText, Text: msg.Text}
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		return domain.Content{Kind: domain.KindPhoto, FileID: largest.FileID, Caption: msg.Caption}
	case msg.Video != nil:
		return domain.Content{Kind: domain.KindVideo, FileID: msg.Video.FileID, Caption: msg.Caption}
	case msg.Voice != nil:
		return domain.Content{Kind: domain.KindVoice, FileID: msg.Voice.FileID}
	case msg.VideoNote != nil:
		return domain.Content{Kind: domain.KindVideoNote, FileID: msg.VideoNote.FileID}
	case msg.Sticker != nil:
		return domain.Content{Kind: domain.KindSticker, FileID: msg.Sticker.FileID}
	case msg.Animation != nil:
		// Animations also carry a Document, so check them first.
		return domain.Content{Kind: domain.KindAnimation, FileID: msg.Animation.FileID}
	case msg.Audio != nil:
		return domain.Content{Kind: domain.KindAudio, FileID: msg.Audio.FileID}
	case msg.Document != nil:
		return domain.Content{Kind: domain.KindDocument, FileID: msg.Document.FileID}
	}
	return domain.Content{}
}

// Reply sends plain text to chatID.
func (t *Telegram) Reply(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitText(text, telegramMaxMsgLen) {
		if err := t.send(ctx, tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// Prompt sends text with one inline button per choice on a single row.
func (t *Telegram) Prompt(ctx context.Context, chatID int64, text string, choices []domain.Choice) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(choices) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(choices))
		for _, c := range choices {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	return t.send(ctx, msg)
}

// Deliver relays content to the recipient's chat.
func (t *Telegram) Deliver(ctx context.Context, d domain.Delivery) error {
	msgs, err := deliveryMessages(d)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := t.send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// deliveryMessages builds the outbound calls for a delivery. Text and
// captioned media carry the icon inline; other media get a short icon header
// first since they have no caption field.
func deliveryMessages(d domain.Delivery) ([]tgbotapi.Chattable, error) {
	c := d.Content
	file := tgbotapi.FileID(c.FileID)

	switch c.Kind {
	case domain.KindText:
		var out []tgbotapi.Chattable
		for _, chunk := range splitText(d.TaggedText(), telegramMaxMsgLen) {
			out = append(out, tgbotapi.NewMessage(d.ChatID, chunk))
		}
		return out, nil
	case domain.KindPhoto:
		p := tgbotapi.NewPhoto(d.ChatID, file)
		p.Caption = d.TaggedCaption()
		return []tgbotapi.Chattable{p}, nil
	case domain.KindVideo:
		v := tgbotapi.NewVideo(d.ChatID, file)
		v.Caption = d.TaggedCaption()
		return []tgbotapi.Chattable{v}, nil
	}

	var media tgbotapi.Chattable
	switch c.Kind {
	case domain.KindVoice:
		media = tgbotapi.NewVoice(d.ChatID, file)
	case domain.KindVideoNote:
		media = tgbotapi.NewVideoNote(d.ChatID, 0, file)
	case domain.KindSticker:
		media = tgbotapi.NewSticker(d.ChatID, file)
	case domain.KindAnimation:
		media = tgbotapi.NewAnimation(d.ChatID, file)
	case domain.KindAudio:
		media = tgbotapi.NewAudio(d.ChatID, file)
	case domain.KindDocument:
		media = tgbotapi.NewDocument(d.ChatID, file)
	default:
		return nil, fmt.Errorf("unsupported content kind %q", c.Kind)
	}
	header := tgbotapi.NewMessage(d.ChatID, d.Icon+":")
	return []tgbotapi.Chattable{header, media}, nil
}

// send paces through the bucket and retries with backoff. Telegram 429
// responses honour retry_after when present.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	if t.api == nil {
		return errors.New("telegram: not connected")
	}
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if werr := t.bucket.Wait(ctx); werr != nil {
			return werr
		}
		if _, err = t.api.Send(c); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		wait := time.Duration(attempt+1) * t.backoff
		if ra := retryAfter(err); ra > 0 {
			wait = ra
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	return err
}

// retryable reports whether err may succeed on retry. Client errors such as a
// blocked bot or a bad file id are final.
func retryable(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == 429 || tgErr.Code >= 500 || tgErr.Code == 0
	}
	return true
}

func retryAfter(err error) time.Duration {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	if strings.Contains(err.Error(), "Too Many Requests") {
		return 3 * time.Second
	}
	return 0
}

// splitText cuts text into chunks of at most maxLen bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitText(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

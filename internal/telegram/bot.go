// Package telegram adapts the Telegram Bot API to the conversation state
// machine. It owns long polling, update dedup, routing, attachment
// download and reply delivery; every chat's updates run through the
// dispatcher so one chat's turns never overlap.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"taskcal/internal/conversation"
	"taskcal/internal/dispatch"
	"taskcal/internal/holiday"
	applog "taskcal/internal/log"
	"taskcal/internal/metrics"
)

const (
	dedupSize       = 4096
	pollTimeout     = 60
	downloadTimeout = 20 * time.Second

	msgMediaGroup     = "Please send holidays.json as a single file, not as part of an album."
	msgUnsupported    = "I can only read text messages and a holidays.json file."
	msgDownloadFailed = "I couldn't download that file. Please try again."

	labelApprove  = "Approve ✅"
	labelReject   = "Reject ❌"
	statusApprove = "Approved ✅"
	statusReject  = "Rejected ❌"
)

// API is the slice of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Conversation is the state machine as seen by the transport.
type Conversation interface {
	Help() conversation.Reply
	Reset(owner int64) conversation.Reply
	HandleText(ctx context.Context, owner int64, text string) conversation.Reply
	HandleControl(owner int64, data string) conversation.Reply
	HandleHolidays(owner int64, a holiday.Attachment) conversation.Reply
}

// Options wires a Bot. Dispatcher is required.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	// HTTPClient downloads attachments; nil uses a client with a short
	// timeout.
	HTTPClient *http.Client
}

// Bot routes Telegram updates to the conversation.
type Bot struct {
	api      API
	conv     Conversation
	dispatch *dispatch.Dispatcher
	metrics  *metrics.Metrics
	client   *http.Client

	seen        *lru.Cache[int, struct{}]
	mediaGroups *lru.Cache[string, struct{}]
}

func New(api API, conv Conversation, opts Options) (*Bot, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("telegram: dispatcher is required")
	}
	seen, err := lru.New[int, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	groups, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &Bot{
		api:         api,
		conv:        conv,
		dispatch:    opts.Dispatcher,
		metrics:     opts.Metrics,
		client:      client,
		seen:        seen,
		mediaGroups: groups,
	}, nil
}

// Run long-polls until ctx is cancelled, then waits for in-flight units.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	applog.Info("telegram polling started")

	defer func() {
		b.api.StopReceivingUpdates()
		b.dispatch.Wait()
		applog.Info("telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(upd)
		}
	}
}

// HandleUpdate dedups and routes one update. The work runs on the
// dispatcher; HandleUpdate itself never blocks on the conversation.
func (b *Bot) HandleUpdate(upd tgbotapi.Update) {
	if ok, _ := b.seen.ContainsOrAdd(upd.UpdateID, struct{}{}); ok {
		b.metrics.Update("duplicate")
		applog.Debug("duplicate update dropped", "update_id", upd.UpdateID)
		return
	}

	switch {
	case upd.CallbackQuery != nil:
		b.routeCallback(upd.CallbackQuery)
	case upd.Message != nil:
		b.routeMessage(upd.Message)
	default:
		b.metrics.Update("ignored")
	}
}

func (b *Bot) routeMessage(msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	switch {
	case msg.IsCommand():
		b.metrics.Update("command")
		cmd := msg.Command()
		b.dispatch.Submit(chatID, func(ctx context.Context, id string) {
			applog.Info("command received", "chat_id", chatID, "unit_id", id, "command", cmd)
			switch cmd {
			case "clear":
				b.deliver(chatID, b.conv.Reset(chatID))
			default:
				b.deliver(chatID, b.conv.Help())
			}
		})

	case msg.Document != nil:
		b.metrics.Update("document")
		if msg.MediaGroupID != "" {
			if seen, _ := b.mediaGroups.ContainsOrAdd(msg.MediaGroupID, struct{}{}); seen {
				return
			}
			b.dispatch.Submit(chatID, func(context.Context, string) {
				b.deliver(chatID, conversation.Reply{Text: msgMediaGroup})
			})
			return
		}
		doc := *msg.Document
		b.dispatch.Submit(chatID, func(ctx context.Context, id string) {
			applog.Info("attachment received", "chat_id", chatID, "unit_id", id, "name", doc.FileName, "size", doc.FileSize)
			b.handleDocument(ctx, chatID, doc)
		})

	case msg.Text != "":
		b.metrics.Update("text")
		text := msg.Text
		b.dispatch.Submit(chatID, func(ctx context.Context, id string) {
			applog.Info("text received", "chat_id", chatID, "unit_id", id, "text", applog.Redact(text))
			b.deliver(chatID, b.conv.HandleText(ctx, chatID, text))
		})

	default:
		b.metrics.Update("unsupported")
		b.dispatch.Submit(chatID, func(context.Context, string) {
			b.deliver(chatID, conversation.Reply{Text: msgUnsupported})
		})
	}
}

// handleDocument checks the header before downloading so oversized or
// misnamed files are rejected without fetching them.
func (b *Bot) handleDocument(ctx context.Context, chatID int64, doc tgbotapi.Document) {
	a := holiday.Attachment{Name: doc.FileName, MediaType: doc.MimeType, Size: doc.FileSize}
	if err := holiday.CheckHeader(a.Name, a.MediaType, a.Size); err != nil {
		b.deliver(chatID, b.conv.HandleHolidays(chatID, a))
		return
	}
	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		applog.Error("attachment download failed", err, "chat_id", chatID)
		b.deliver(chatID, conversation.Reply{Text: msgDownloadFailed})
		return
	}
	a.Data = data
	b.deliver(chatID, b.conv.HandleHolidays(chatID, a))
}

// download fetches at most MaxBytes+1 bytes so the parser can still
// report an oversized body.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, holiday.MaxBytes+1))
}

func (b *Bot) routeCallback(cq *tgbotapi.CallbackQuery) {
	b.metrics.Update("callback")
	if cq.Message == nil || cq.Message.Chat == nil {
		go b.answerCallback(cq.ID)
		return
	}
	chatID := cq.Message.Chat.ID
	messageID := cq.Message.MessageID
	original := cq.Message.Text
	data := cq.Data

	callbackID := cq.ID
	b.dispatch.Submit(chatID, func(_ context.Context, id string) {
		b.answerCallback(callbackID)
		applog.Info("control received", "chat_id", chatID, "unit_id", id)
		reply := b.conv.HandleControl(chatID, data)
		if status := resolvedStatus(reply.Resolved); status != "" {
			edit := tgbotapi.NewEditMessageText(chatID, messageID, original+"\n\n"+status)
			if _, err := b.api.Request(edit); err != nil {
				applog.Error("disable controls failed", err, "chat_id", chatID)
			}
		}
		b.deliver(chatID, reply)
	})
}

// answerCallback stops the client's spinner. It runs off the polling loop.
func (b *Bot) answerCallback(id string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		applog.Error("callback answer failed", err)
	}
}

func resolvedStatus(a conversation.Action) string {
	switch a {
	case conversation.ActionApprove:
		return statusApprove
	case conversation.ActionReject:
		return statusReject
	}
	return ""
}

// deliver sends the reply text, its controls and its document.
func (b *Bot) deliver(chatID int64, reply conversation.Reply) {
	if reply.Text != "" {
		msg := tgbotapi.NewMessage(chatID, reply.Text)
		if reply.Control != nil {
			msg.ReplyMarkup = keyboard(reply.Control)
		}
		if _, err := b.api.Send(msg); err != nil {
			applog.Error("send message failed", err, "chat_id", chatID)
		}
	}
	if reply.Document != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: reply.Document.Name, Bytes: reply.Document.Data})
		if _, err := b.api.Send(doc); err != nil {
			applog.Error("send document failed", err, "chat_id", chatID, "bytes", len(reply.Document.Data))
		}
	}
}

func keyboard(c *conversation.Controls) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(labelApprove, c.Approve),
			tgbotapi.NewInlineKeyboardButtonData(labelReject, c.Reject),
		),
	)
}

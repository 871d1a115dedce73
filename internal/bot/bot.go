package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"token-manager/internal/activity"
	"token-manager/internal/ledger"
	"token-manager/internal/models"
	"token-manager/internal/presence"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	stateWaitingTokens = "WAITING_TOKENS"
	stateWaitingBan    = "WAITING_BAN"
)

type Bot struct {
	Instance *telego.Bot
	Ledger   *ledger.Engine
	Presence *presence.Tracker
	Sink     *activity.Sink
	Sessions *Sessions
}

func NewBot(token string, engine *ledger.Engine, tracker *presence.Tracker, sink *activity.Sink) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance: tgBot,
		Ledger:   engine,
		Presence: tracker,
		Sink:     sink,
		Sessions: NewSessions(),
	}, nil
}

func (b *Bot) reply(ctx *th.Context, chatID int64, text string) {
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text)); err != nil {
		log.Printf("Failed to send message to %d: %v", chatID, err)
	}
}

func mainMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📊 Statistik").WithCallbackData("stats"),
			tu.InlineKeyboardButton("🟢 Siapa online").WithCallbackData("online"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("➕ Tambah token").WithCallbackData("add_tokens"),
		),
	)
}

// Start runs long polling until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		text := "Selamat datang di Token Manager! 👋\n\n" +
			"/login <username> <password> - masuk sebagai user\n" +
			"/admin <password> - masuk sebagai admin\n" +
			"/add - tambah token (satu per baris)\n" +
			"/stats - statistik token\n" +
			"/online - user yang sedang online\n" +
			"/logout - keluar"
		if s, ok := b.Sessions.Get(message.From.ID); ok {
			text = fmt.Sprintf("Halo, %s! 👋\n\n", s.Username) + text
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), text).WithReplyMarkup(mainMenu()))
		return nil
	}, th.CommandEqual("start"))

	// /login <username> <password>
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		fields := strings.Fields(commandArgs(message.Text))
		if len(fields) < 1 {
			b.reply(ctx, message.Chat.ID, "Format: /login <username> <password>")
			return nil
		}
		password := ""
		if len(fields) > 1 {
			password = fields[1]
		}
		b.login(ctx, message, fields[0], password, models.RoleUser)
		return nil
	}, th.CommandEqual("login"))

	// /admin <password>
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		b.login(ctx, message, "", commandArgs(message.Text), models.RoleAdmin)
		return nil
	}, th.CommandEqual("admin"))

	// /logout
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		s, ok := b.Sessions.Delete(message.From.ID)
		if !ok {
			b.reply(ctx, message.Chat.ID, "Anda belum login.")
			return nil
		}
		if err := b.Presence.SetOffline(ctx.Context(), s.Username); err != nil {
			log.Printf("Failed to set %s offline: %v", s.Username, err)
		}
		b.Sink.Log(ctx.Context(), s.Username, "logout", "Keluar dari bot")
		b.reply(ctx, message.Chat.ID, "👋 Sampai jumpa, "+s.Username+"!")
		return nil
	}, th.CommandEqual("logout"))

	// /add [tokens...]
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		s, ok := b.requireSession(ctx, message)
		if !ok {
			return nil
		}
		text := commandArgs(message.Text)
		if text == "" {
			b.Sessions.SetState(message.From.ID, stateWaitingTokens)
			b.reply(ctx, message.Chat.ID, "📝 Kirim token Anda, satu token per baris:")
			return nil
		}
		b.addTokens(ctx, message.Chat.ID, s, text)
		return nil
	}, th.CommandEqual("add"))

	// /stats
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		s, ok := b.requireSession(ctx, message)
		if !ok {
			return nil
		}
		b.sendStats(ctx, message.Chat.ID, s)
		return nil
	}, th.CommandEqual("stats"))

	// /online
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if _, ok := b.requireSession(ctx, message); !ok {
			return nil
		}
		b.sendOnline(ctx, message.Chat.ID)
		return nil
	}, th.CommandEqual("online"))

	// /take <n> (admin)
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		s, ok := b.requireAdmin(ctx, message)
		if !ok {
			return nil
		}
		count, err := strconv.Atoi(commandArgs(message.Text))
		if err != nil {
			b.reply(ctx, message.Chat.ID, "Format: /take <jumlah>")
			return nil
		}
		res, err := b.Ledger.TakeTokens(ctx.Context(), count, s.Username)
		if err != nil {
			b.reply(ctx, message.Chat.ID, errorText(err))
			return nil
		}
		b.reply(ctx, message.Chat.ID, formatTake(res))
		return nil
	}, th.CommandEqual("take"))

	// /ban [tokens...] (admin)
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		s, ok := b.requireAdmin(ctx, message)
		if !ok {
			return nil
		}
		text := commandArgs(message.Text)
		if text == "" {
			b.Sessions.SetState(message.From.ID, stateWaitingBan)
			b.reply(ctx, message.Chat.ID, "🚫 Kirim token yang akan di-ban, satu token per baris:")
			return nil
		}
		b.banTokens(ctx, message.Chat.ID, s, text)
		return nil
	}, th.CommandEqual("ban"))

	// /check <token> (admin)
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if _, ok := b.requireAdmin(ctx, message); !ok {
			return nil
		}
		info, err := b.Ledger.CheckTokenOwner(ctx.Context(), commandArgs(message.Text))
		if err != nil {
			b.reply(ctx, message.Chat.ID, errorText(err))
			return nil
		}
		b.reply(ctx, message.Chat.ID, formatTokenInfo(info))
		return nil
	}, th.CommandEqual("check"))

	// Callback for Stats
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		if s, ok := b.Sessions.Get(callback.From.ID); ok {
			b.sendStats(ctx, callback.From.ID, s)
		} else {
			b.reply(ctx, callback.From.ID, "🔒 Silakan login terlebih dahulu dengan /login.")
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("stats"))

	// Callback for Online users
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		if _, ok := b.Sessions.Get(callback.From.ID); ok {
			b.sendOnline(ctx, callback.From.ID)
		} else {
			b.reply(ctx, callback.From.ID, "🔒 Silakan login terlebih dahulu dengan /login.")
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("online"))

	// Callback for Add tokens
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		if _, ok := b.Sessions.Get(callback.From.ID); ok {
			b.Sessions.SetState(callback.From.ID, stateWaitingTokens)
			b.reply(ctx, callback.From.ID, "📝 Kirim token Anda, satu token per baris:")
		} else {
			b.reply(ctx, callback.From.ID, "🔒 Silakan login terlebih dahulu dengan /login.")
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("add_tokens"))

	// Handle Text Input (token lines after /add or /ban)
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		state := b.Sessions.TakeState(message.From.ID)
		if state == "" {
			return nil
		}
		s, ok := b.Sessions.Get(message.From.ID)
		if !ok {
			return nil
		}

		switch state {
		case stateWaitingTokens:
			b.addTokens(ctx, message.Chat.ID, s, message.Text)
		case stateWaitingBan:
			if s.Role == models.RoleAdmin {
				b.banTokens(ctx, message.Chat.ID, s, message.Text)
			}
		}
		return nil
	}, th.AnyMessageWithText())

	go func() {
		<-ctx.Done()
		handler.Stop()
	}()

	log.Println("Telegram bot started")
	handler.Start()
	return nil
}

func (b *Bot) login(ctx *th.Context, message *telego.Message, username, password, role string) {
	res, err := b.Ledger.Authenticate(ctx.Context(), username, password, role)
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return
	}
	if prev, ok := b.Sessions.Get(message.From.ID); ok && prev.Username != res.Username {
		if err := b.Presence.SetOffline(ctx.Context(), prev.Username); err != nil {
			log.Printf("Failed to set %s offline: %v", prev.Username, err)
		}
	}
	b.Sessions.Set(message.From.ID, Session{Username: res.Username, Role: res.Role})
	if err := b.Presence.SetOnline(ctx.Context(), res.Username); err != nil {
		log.Printf("Failed to set %s online: %v", res.Username, err)
	}

	text := fmt.Sprintf("✅ Login berhasil sebagai %s.", res.Username)
	if res.InfoRequired {
		text += "\n\nℹ️ Data pribadi Anda belum lengkap (WA, rekening, tanggal lahir, tempat tinggal)."
	}
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), text).WithReplyMarkup(mainMenu()))
}

func (b *Bot) requireSession(ctx *th.Context, message *telego.Message) (Session, bool) {
	s, ok := b.Sessions.Get(message.From.ID)
	if !ok {
		b.reply(ctx, message.Chat.ID, "🔒 Silakan login terlebih dahulu dengan /login.")
	}
	return s, ok
}

func (b *Bot) requireAdmin(ctx *th.Context, message *telego.Message) (Session, bool) {
	s, ok := b.requireSession(ctx, message)
	if !ok {
		return s, false
	}
	if s.Role != models.RoleAdmin {
		b.reply(ctx, message.Chat.ID, "⛔ Perintah ini hanya untuk admin.")
		return s, false
	}
	return s, true
}

// addTokens credits the lines to the session user.
func (b *Bot) addTokens(ctx *th.Context, chatID int64, s Session, text string) {
	if s.Role == models.RoleAdmin {
		b.reply(ctx, chatID, "Admin tidak dapat menambahkan token atas nama sendiri.")
		return
	}
	res, err := b.Ledger.AddBulkTokens(ctx.Context(), text, s.Username, s.Username)
	if err != nil {
		b.reply(ctx, chatID, errorText(err))
		return
	}
	b.reply(ctx, chatID, formatBulk(res))
}

func (b *Bot) banTokens(ctx *th.Context, chatID int64, s Session, text string) {
	res, err := b.Ledger.BanTokens(ctx.Context(), text, s.Username)
	if err != nil {
		b.reply(ctx, chatID, errorText(err))
		return
	}
	b.reply(ctx, chatID, formatBan(res))
}

func (b *Bot) sendStats(ctx *th.Context, chatID int64, s Session) {
	if s.Role == models.RoleAdmin {
		st, err := b.Ledger.Stats(ctx.Context())
		if err != nil {
			b.reply(ctx, chatID, errorText(err))
			return
		}
		b.reply(ctx, chatID, formatStats(st))
		return
	}
	u, err := b.Ledger.UserStats(ctx.Context(), s.Username)
	if err != nil {
		b.reply(ctx, chatID, errorText(err))
		return
	}
	b.reply(ctx, chatID, formatUserStats(u))
}

func (b *Bot) sendOnline(ctx *th.Context, chatID int64) {
	users, err := b.Presence.OnlineUsers(ctx.Context())
	if err != nil {
		b.reply(ctx, chatID, errorText(err))
		return
	}
	b.reply(ctx, chatID, formatOnline(users))
}

// Shutdown marks every logged in account offline.
func (b *Bot) Shutdown(ctx context.Context) {
	for _, username := range b.Sessions.Usernames() {
		if err := b.Presence.SetOffline(ctx, username); err != nil {
			log.Printf("Failed to set %s offline: %v", username, err)
		}
	}
}

// Package relay is the anonymous conversation protocol: it resolves a
// participant's angel or mortal, applies registration and rate checks, drives
// the per-chat state machine and forwards content through the transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/directory"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/metrics"
	"github.com/felii30/angel-and-mortal-bot/internal/profile"
	"github.com/felii30/angel-and-mortal-bot/internal/ratelimit"
	"github.com/felii30/angel-and-mortal-bot/internal/roster"
)

// Update is one inbound event, already stripped of transport types.
// Exactly one of Command, Callback or Content is set.
type Update struct {
	ChatID   int64
	Username string
	Command  string // lower-case, without the slash
	Args     string
	Callback string
	Content  *domain.Content
}

// Engine handles updates. It is safe for concurrent use across chats; updates
// for a single chat must be delivered in order by the caller.
type Engine struct {
	dir       *directory.Directory
	registry  *roster.Registry
	limiter   *ratelimit.Limiter
	profiles  *profile.Store
	transport domain.Transport
	sessions  *Sessions
	logger    *slog.Logger
}

// Config holds the engine's collaborators.
type Config struct {
	Directory *directory.Directory
	Registry  *roster.Registry
	Limiter   *ratelimit.Limiter
	Profiles  *profile.Store
	Transport domain.Transport
	Sessions  *Sessions // optional
	Logger    *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessions()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewLimiter(ratelimit.DefaultPolicy())
	}
	return &Engine{
		dir:       cfg.Directory,
		registry:  cfg.Registry,
		limiter:   cfg.Limiter,
		profiles:  cfg.Profiles,
		transport: cfg.Transport,
		sessions:  cfg.Sessions,
		logger:    cfg.Logger,
	}
}

// State returns the current conversation state of a chat.
func (e *Engine) State(chatID int64) State {
	return e.sessions.Get(chatID)
}

// Handle processes one update to completion.
func (e *Engine) Handle(ctx context.Context, u Update) {
	metrics.UpdatesTotal.Inc()
	u.Username = domain.NormalizeUsername(u.Username)

	switch {
	case u.Command != "":
		e.handleCommand(ctx, u)
	case u.Callback != "":
		e.handleCallback(ctx, u)
	case u.Content != nil:
		e.step(ctx, u, Event{Kind: EventContent, Content: *u.Content})
	}
	metrics.ActiveSessions.Set(int64(e.sessions.Active()))
}

func (e *Engine) handleCommand(ctx context.Context, u Update) {
	switch u.Command {
	case "start":
		e.start(ctx, u)
	case "help":
		e.reply(ctx, u.ChatID, helpText)
	case "send":
		e.step(ctx, u, e.sendEvent(u))
	case "setup":
		_, registered := e.lookup(u)
		e.step(ctx, u, Event{Kind: EventSetup, Registered: registered})
	case "cancel":
		e.step(ctx, u, Event{Kind: EventCancel})
	case "profile":
		e.showTriad(ctx, u)
	case "removeinterest":
		e.removeInterest(ctx, u)
	default:
		e.reply(ctx, u.ChatID, msgUnknownCommand)
	}
}

func (e *Engine) handleCallback(ctx context.Context, u Update) {
	role := domain.Role(u.Callback)
	if role != domain.RoleAngel && role != domain.RoleMortal {
		e.logger.Debug("ignoring unknown callback", "chat_id", u.ChatID, "data", u.Callback)
		return
	}
	ev := Event{Kind: EventChoose, Role: role}
	if p, ok := e.lookup(u); ok {
		if partner, ok := e.dir.Partner(p.Username, role); ok {
			ev.RecipientBound = partner.Registered()
		}
	}
	e.step(ctx, u, ev)
}

// sendEvent resolves registration and charges the rate limiter. The charge
// happens on acceptance of /send, not on successful delivery.
func (e *Engine) sendEvent(u Update) Event {
	p, registered := e.lookup(u)
	ev := Event{Kind: EventSend, Registered: registered}
	if !registered {
		return ev
	}
	if !e.limiter.Allow(p.Username) {
		ev.RateLimited = true
		ev.Wait = e.limiter.RemainingWait(p.Username)
		metrics.RateLimited.Inc()
		e.logger.Info("send rate limited", "username", p.Username, "wait", ev.Wait.Round(time.Second))
	}
	return ev
}

// step runs the state machine and executes its effects. The new state is
// committed before effects run so a transport failure cannot leave a chat stuck.
func (e *Engine) step(ctx context.Context, u Update, ev Event) {
	from := e.sessions.Get(u.ChatID)
	to, effects := Transition(from, ev)
	e.sessions.Set(u.ChatID, to)
	if from != to {
		e.logger.Debug("session transition", "chat_id", u.ChatID, "from", from, "to", to)
	}

	for _, eff := range effects {
		switch eff := eff.(type) {
		case Reply:
			if len(eff.Choices) > 0 {
				e.prompt(ctx, u.ChatID, eff.Text, eff.Choices)
			} else {
				e.reply(ctx, u.ChatID, eff.Text)
			}
		case Deliver:
			e.execDeliver(ctx, u, eff)
		case SaveNickname:
			e.saveProfile(ctx, u, func() error { return e.profiles.SetNickname(ctx, u.Username, eff.Text) })
		case SaveBio:
			e.saveProfile(ctx, u, func() error { return e.profiles.SetBio(ctx, u.Username, eff.Text) })
		case SaveInterests:
			e.saveProfile(ctx, u, func() error {
				for _, item := range eff.Items {
					if err := e.profiles.AddInterest(ctx, u.Username, item); err != nil {
						return err
					}
				}
				return nil
			})
		case ShowSummary:
			summary, err := e.profiles.Summary(ctx, u.Username)
			if err != nil {
				e.logger.Warn("profile not persisted", "username", u.Username, "err", err)
			}
			e.reply(ctx, u.ChatID, summary)
		}
	}
}

func (e *Engine) execDeliver(ctx context.Context, u Update, eff Deliver) {
	sender, ok := e.lookup(u)
	if !ok {
		e.reply(ctx, u.ChatID, msgNotRegistered)
		return
	}
	if err := e.Relay(ctx, sender, eff.To, eff.Content); err != nil {
		metrics.DeliveryFailures.Inc()
		e.logger.Error("relay failed",
			"username", sender.Username,
			"to_role", eff.To,
			"kind", eff.Content.Kind,
			"err", err,
		)
		e.reply(ctx, u.ChatID, failedText(eff.To))
		return
	}
	e.reply(ctx, u.ChatID, sentText(eff.To))
}

// Relay forwards content from sender to the partner holding role to. The
// recipient sees only the icon of the sender's role, never a username.
func (e *Engine) Relay(ctx context.Context, sender domain.Participant, to domain.Role, c domain.Content) error {
	recipient, ok := e.dir.Partner(sender.Username, to)
	if !ok || !recipient.Registered() {
		return domain.ErrRecipientUnavailable
	}

	d := domain.Delivery{
		ChatID:  recipient.ChatID,
		Icon:    to.Opposite().Icon(),
		Content: c,
	}
	start := time.Now()
	if err := e.transport.Deliver(ctx, d); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	metrics.DeliveryLatency.ObserveSince(start)
	metrics.Deliveries(to).Inc()
	e.logger.Info("message relayed", "from", sender.Username, "to_role", to, "kind", c.Kind)
	return nil
}

func (e *Engine) start(ctx context.Context, u Update) {
	if u.Username == "" {
		e.reply(ctx, u.ChatID, msgNoUsername)
		return
	}
	p, err := e.registry.Register(ctx, u.Username, u.ChatID)
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		e.logger.Warn("unregistered user tried to start", "username", u.Username, "chat_id", u.ChatID)
		e.reply(ctx, u.ChatID, msgNotRegistered)
		return
	case err != nil:
		e.logger.Error("registration not persisted", "username", p.Username, "err", err)
		e.reply(ctx, u.ChatID, welcomeText(p.Username)+"\n\n"+msgRegisterFailed)
		return
	}
	metrics.Registrations.Inc()
	e.reply(ctx, u.ChatID, welcomeText(p.Username))
}

func (e *Engine) showTriad(ctx context.Context, u Update) {
	p, ok := e.lookup(u)
	if !ok {
		e.reply(ctx, u.ChatID, msgNotRegistered)
		return
	}
	view, err := e.profiles.Triad(ctx, p.Username, p.Angel, p.Mortal)
	if err != nil {
		e.logger.Warn("profile not persisted", "username", p.Username, "err", err)
	}
	e.reply(ctx, u.ChatID, view)
}

func (e *Engine) removeInterest(ctx context.Context, u Update) {
	p, ok := e.lookup(u)
	if !ok {
		e.reply(ctx, u.ChatID, msgNotRegistered)
		return
	}
	interest := strings.TrimSpace(u.Args)
	if interest == "" {
		e.reply(ctx, u.ChatID, msgInterestUsage)
		return
	}
	if err := e.profiles.RemoveInterest(ctx, p.Username, interest); err != nil {
		e.logger.Error("remove interest failed", "username", p.Username, "err", err)
		e.reply(ctx, u.ChatID, msgProfileFailed)
		return
	}
	e.reply(ctx, u.ChatID, msgInterestRemoved)
}

func (e *Engine) saveProfile(ctx context.Context, u Update, save func() error) {
	if err := save(); err != nil {
		e.logger.Error("profile update failed", "username", u.Username, "err", err)
		e.reply(ctx, u.ChatID, msgProfileFailed)
	}
}

func (e *Engine) lookup(u Update) (domain.Participant, bool) {
	if u.Username == "" {
		return domain.Participant{}, false
	}
	return e.dir.Get(u.Username)
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.transport.Reply(ctx, chatID, text); err != nil {
		e.logger.Error("reply failed", "chat_id", chatID, "err", err)
	}
}

func (e *Engine) prompt(ctx context.Context, chatID int64, text string, choices []domain.Choice) {
	if err := e.transport.Prompt(ctx, chatID, text, choices); err != nil {
		e.logger.Error("prompt failed", "chat_id", chatID, "err", err)
	}
}

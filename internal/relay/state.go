package relay

import (
	"strings"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/profile"
)

// State is the per-chat conversation position.
type State uint8

const (
	Idle State = iota
	AwaitingRecipientChoice
	ComposingToAngel
	ComposingToMortal
	AwaitingNickname
	AwaitingBio
	AwaitingInterests
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRecipientChoice:
		return "awaiting_recipient_choice"
	case ComposingToAngel:
		return "composing_to_angel"
	case ComposingToMortal:
		return "composing_to_mortal"
	case AwaitingNickname:
		return "awaiting_nickname"
	case AwaitingBio:
		return "awaiting_bio"
	case AwaitingInterests:
		return "awaiting_interests"
	default:
		return "unknown"
	}
}

func (s State) inSetup() bool {
	return s == AwaitingNickname || s == AwaitingBio || s == AwaitingInterests
}

// EventKind selects which Event fields are meaningful.
type EventKind uint8

const (
	EventSend EventKind = iota
	EventChoose
	EventContent
	EventCancel
	EventSetup
)

// Event is an inbound action with every external fact already resolved, so
// Transition needs no access to stores or the transport.
type Event struct {
	Kind EventKind

	// EventSend, EventSetup
	Registered bool
	// EventSend
	RateLimited bool
	Wait        time.Duration

	// EventChoose
	Role           domain.Role
	RecipientBound bool

	// EventContent
	Content domain.Content
}

// Effect is an action the engine performs after a transition.
type Effect interface{ isEffect() }

// Reply answers the sender. Choices, when present, render as buttons.
type Reply struct {
	Text    string
	Choices []domain.Choice
}

// Deliver relays Content to the sender's partner holding role To.
type Deliver struct {
	To      domain.Role
	Content domain.Content
}

type SaveNickname struct{ Text string }
type SaveBio struct{ Text string }
type SaveInterests struct{ Items []string }

// ShowSummary replies with the sender's rendered profile.
type ShowSummary struct{}

func (Reply) isEffect()         {}
func (Deliver) isEffect()       {}
func (SaveNickname) isEffect()  {}
func (SaveBio) isEffect()       {}
func (SaveInterests) isEffect() {}
func (ShowSummary) isEffect()   {}

var recipientChoices = []domain.Choice{
	{Label: "Angel", Data: string(domain.RoleAngel)},
	{Label: "Mortal", Data: string(domain.RoleMortal)},
}

// Transition is the pure conversation state machine.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EventCancel:
		if s.inSetup() {
			return Idle, []Effect{Reply{Text: msgSetupCancelled}}
		}
		return Idle, []Effect{Reply{Text: msgCancelled}}

	case EventSend:
		// An accepted /send restarts the flow from any state. A rate-limited
		// one leaves the current conversation untouched.
		if !ev.Registered {
			return Idle, []Effect{Reply{Text: msgNotRegistered}}
		}
		if ev.RateLimited {
			return s, []Effect{Reply{Text: rateLimitedText(ev.Wait)}}
		}
		return AwaitingRecipientChoice, []Effect{Reply{Text: msgChooseRecipient, Choices: recipientChoices}}

	case EventSetup:
		if !ev.Registered {
			return Idle, []Effect{Reply{Text: msgNotRegistered}}
		}
		return AwaitingNickname, []Effect{Reply{Text: msgAskNickname}}

	case EventChoose:
		if s != AwaitingRecipientChoice {
			return s, []Effect{Reply{Text: msgStaleChoice}}
		}
		if !ev.RecipientBound {
			return Idle, []Effect{Reply{Text: notStartedText(ev.Role)}}
		}
		next := ComposingToMortal
		if ev.Role == domain.RoleAngel {
			next = ComposingToAngel
		}
		return next, []Effect{Reply{Text: composePromptText(ev.Role)}}

	case EventContent:
		return onContent(s, ev.Content)
	}
	return s, nil
}

func onContent(s State, c domain.Content) (State, []Effect) {
	switch s {
	case ComposingToAngel, ComposingToMortal:
		if c.Kind == "" {
			return s, []Effect{Reply{Text: msgUnsupported}}
		}
		to := domain.RoleMortal
		if s == ComposingToAngel {
			to = domain.RoleAngel
		}
		return Idle, []Effect{Deliver{To: to, Content: c}}

	case AwaitingRecipientChoice:
		return s, []Effect{Reply{Text: msgUseButtons}}

	case AwaitingNickname:
		text, skip, ok := setupText(c)
		if !ok {
			return s, []Effect{Reply{Text: msgTextOnly + "\n\n" + msgAskNickname}}
		}
		if skip {
			return AwaitingBio, []Effect{Reply{Text: msgAskBio}}
		}
		nickname, err := profile.ValidateNickname(text)
		if err != nil {
			return s, []Effect{Reply{Text: msgNicknameInvalid}}
		}
		return AwaitingBio, []Effect{SaveNickname{Text: nickname}, Reply{Text: msgAskBio}}

	case AwaitingBio:
		text, skip, ok := setupText(c)
		if !ok {
			return s, []Effect{Reply{Text: msgTextOnly + "\n\n" + msgAskBio}}
		}
		if skip {
			return AwaitingInterests, []Effect{Reply{Text: msgAskInterests}}
		}
		bio, err := profile.ValidateBio(text)
		if err != nil {
			return s, []Effect{Reply{Text: msgBioInvalid}}
		}
		return AwaitingInterests, []Effect{SaveBio{Text: bio}, Reply{Text: msgAskInterests}}

	case AwaitingInterests:
		text, skip, ok := setupText(c)
		if !ok {
			return s, []Effect{Reply{Text: msgTextOnly + "\n\n" + msgAskInterests}}
		}
		if skip {
			return Idle, []Effect{Reply{Text: msgSetupDone}, ShowSummary{}}
		}
		items, valid := splitInterests(text)
		if !valid {
			return s, []Effect{Reply{Text: msgInterestsInvalid}}
		}
		return Idle, []Effect{SaveInterests{Items: items}, Reply{Text: msgSetupDone}, ShowSummary{}}
	}
	return s, []Effect{Reply{Text: msgIdleHint}}
}

// setupText extracts text for a setup step; ok is false for media.
func setupText(c domain.Content) (text string, skip bool, ok bool) {
	if c.Kind != domain.KindText {
		return "", false, false
	}
	text = strings.TrimSpace(c.Text)
	return text, strings.EqualFold(text, skipKeyword), true
}

// splitInterests parses a comma-separated list, dropping blanks and repeats.
func splitInterests(text string) ([]string, bool) {
	var items []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		if len([]rune(part)) > profile.MaxInterestLen {
			return nil, false
		}
		seen[part] = true
		items = append(items, part)
	}
	return items, len(items) > 0
}

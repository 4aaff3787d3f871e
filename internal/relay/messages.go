package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/profile"
)

const skipKeyword = "skip"

const (
	msgNotRegistered   = "Sorry, you are not registered for this private event."
	msgNoUsername      = "Please set a Telegram username first, then try again."
	msgChooseRecipient = "Send a message to your:"
	msgCancelled       = "Message sending cancelled."
	msgSetupCancelled  = "Profile setup cancelled."
	msgStaleChoice     = "That menu has expired. Use /send to start again."
	msgUseButtons      = "Please choose Angel or Mortal using the buttons above, or /cancel."
	msgUnsupported     = "Sorry, that kind of message cannot be relayed. Try text, a photo, video, voice note, sticker, GIF, audio or a file."
	msgIdleHint        = "Use /send to message your angel or mortal, /setup to edit your profile, or /profile to view profiles."
	msgTextOnly        = "Please reply with text."
	msgUnknownCommand  = "Unknown command. Type /help for available commands."
	msgRegisterFailed  = "You are registered, but saving failed. If messages stop reaching you after a restart, send /start again."

	msgAskNickname  = "What nickname should your angel and mortal see? (max 32 characters, or \"skip\")"
	msgAskBio       = "Tell them a little about yourself. (max 300 characters, or \"skip\")"
	msgAskInterests = "List some interests, separated by commas. (or \"skip\")"
	msgSetupDone    = "Profile saved!"

	msgInterestRemoved = "Interest removed."
	msgInterestUsage   = "Usage: /removeinterest <interest>"
	msgProfileFailed   = "Sorry, your profile could not be saved right now. Please try again later."
)

var (
	msgNicknameInvalid  = fmt.Sprintf("Nickname must be 1-%d characters. Please try again.", profile.MaxNicknameLen)
	msgBioInvalid       = fmt.Sprintf("Bio must be 1-%d characters. Please try again.", profile.MaxBioLen)
	msgInterestsInvalid = fmt.Sprintf("Each interest must be 1-%d characters. Please try again.", profile.MaxInterestLen)
)

const helpText = `Commands:
/start - register with the bot
/send - send a message to your angel or mortal
/setup - set your nickname, bio and interests
/profile - view your profile and your angel's and mortal's
/removeinterest <interest> - remove one interest
/cancel - cancel the current action`

func welcomeText(username string) string {
	return fmt.Sprintf("Welcome, %s! You can use /send to send a message to your angel or mortal.", username)
}

func rateLimitedText(wait time.Duration) string {
	limited := &domain.RateLimitedError{Wait: wait}
	return fmt.Sprintf("You're sending messages too quickly. Please wait %d seconds before trying again.", limited.WaitSeconds())
}

func notStartedText(r domain.Role) string {
	return fmt.Sprintf("Your %s has not started the bot yet.", strings.ToLower(r.Title()))
}

func composePromptText(r domain.Role) string {
	return fmt.Sprintf("Please type your message to your %s.", r.Title())
}

func sentText(r domain.Role) string {
	return fmt.Sprintf("Your message has been sent to your %s.", r.Title())
}

func failedText(r domain.Role) string {
	return fmt.Sprintf("Failed to send message to your %s.", r.Title())
}

package domain

import "strings"

// Role is a participant's position relative to someone else in the pairing graph.
type Role string

const (
	RoleAngel  Role = "angel"
	RoleMortal Role = "mortal"
)

const (
	AngelIcon  = "😇"
	MortalIcon = "🙇"
)

// Icon returns the tag shown to a recipient when a message comes from someone in this role.
func (r Role) Icon() string {
	if r == RoleAngel {
		return AngelIcon
	}
	return MortalIcon
}

// Opposite returns the role the recipient holds relative to the sender.
func (r Role) Opposite() Role {
	if r == RoleAngel {
		return RoleMortal
	}
	return RoleAngel
}

// Title returns the capitalized role name used in user-facing replies.
func (r Role) Title() string {
	if r == RoleAngel {
		return "Angel"
	}
	return "Mortal"
}

// Participant is a roster entry. Angel and Mortal are usernames (keys into the
// directory that owns every record), never pointers.
type Participant struct {
	Username string
	ChatID   int64 // 0 until the participant sends /start
	Angel    string
	Mortal   string
}

// Registered reports whether the participant has a live chat binding.
func (p Participant) Registered() bool {
	return p.ChatID != 0
}

// Paired reports whether both pairing references are set.
func (p Participant) Paired() bool {
	return p.Angel != "" && p.Mortal != ""
}

// Partner returns the username holding role r for this participant.
func (p Participant) Partner(r Role) string {
	if r == RoleAngel {
		return p.Angel
	}
	return p.Mortal
}

// NormalizeUsername case-folds a username and strips surrounding space and a leading '@'.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// Summary renders a participant's own profile.
func (s *Store) Summary(ctx context.Context, username string) (string, error) {
	p, err := s.GetOrCreate(ctx, username)
	name := p.Nickname
	if name == "" {
		name = domain.NormalizeUsername(username)
	}
	return fmt.Sprintf("👤 Profile for %s:\n\nBio: %s\nInterests: %s", name, bioOr(p), interestsOr(p)), err
}

// Triad renders the caller's profile next to their angel's and mortal's.
// Partners appear only under role labels with their chosen nickname, never
// their username.
func (s *Store) Triad(ctx context.Context, self, angel, mortal string) (string, error) {
	var firstErr error
	get := func(name string) domain.Profile {
		p, err := s.GetOrCreate(ctx, name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return p
	}
	me, a, m := get(self), get(angel), get(mortal)

	myName := me.Nickname
	if myName == "" {
		myName = domain.NormalizeUsername(self)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🎭 Your Profile:\n")
	writeSection(&sb, myName, me)
	fmt.Fprintf(&sb, "\n%s Your Angel's Profile:\n", domain.AngelIcon)
	writeSection(&sb, partnerName(a), a)
	fmt.Fprintf(&sb, "\n%s Your Mortal's Profile:\n", domain.MortalIcon)
	writeSection(&sb, partnerName(m), m)
	return strings.TrimRight(sb.String(), "\n"), firstErr
}

func writeSection(sb *strings.Builder, name string, p domain.Profile) {
	fmt.Fprintf(sb, "Nickname: %s\nBio: %s\nInterests: %s\n", name, bioOr(p), interestsOr(p))
}

func partnerName(p domain.Profile) string {
	if p.Nickname == "" {
		return unsetNickname
	}
	return p.Nickname
}

func bioOr(p domain.Profile) string {
	if p.Bio == "" {
		return noBio
	}
	return p.Bio
}

func interestsOr(p domain.Profile) string {
	if len(p.Interests) == 0 {
		return noInterests
	}
	return strings.Join(p.Interests, ", ")
}

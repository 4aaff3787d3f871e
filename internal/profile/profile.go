// Package profile keeps each participant's optional nickname, bio and interests.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

const (
	MaxNicknameLen = 32
	MaxBioLen      = 300
	MaxInterestLen = 64
)

var (
	ErrEmpty   = errors.New("value is empty")
	ErrTooLong = errors.New("value is too long")
)

const (
	unsetNickname = "???"
	noBio         = "No bio set"
	noInterests   = "No interests added"
)

// Store holds profiles in memory and rewrites the whole snapshot after every
// mutation.
type Store struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	persist  domain.ProfileStore
	logger   *slog.Logger
	// unread is set while the persisted snapshot could not be read; saving
	// then would replace profiles that were never loaded.
	unread bool
}

func NewStore(persist domain.ProfileStore, logger *slog.Logger) *Store {
	return &Store{
		profiles: make(map[string]domain.Profile),
		persist:  persist,
		logger:   logger,
	}
}

// Load replaces in-memory profiles with the persisted snapshot. Read errors
// are logged and leave the store empty, and the next save re-reads first.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.persist.LoadProfiles(ctx)
	if err != nil {
		s.unread = true
		s.logger.Error("cannot load profiles, starting with none", "err", err)
		return
	}
	s.unread = false
	s.profiles = make(map[string]domain.Profile, len(loaded))
	for name, p := range loaded {
		s.profiles[domain.NormalizeUsername(name)] = p.Clone()
	}
	s.logger.Info("profiles loaded", "profiles", len(s.profiles))
}

// GetOrCreate returns the profile, creating and persisting an empty one first.
func (s *Store) GetOrCreate(ctx context.Context, username string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeUsername(username)
	if p, ok := s.profiles[key]; ok {
		return p.Clone(), nil
	}
	p := domain.Profile{Interests: []string{}}
	s.profiles[key] = p
	return p.Clone(), s.saveLocked(ctx)
}

// ValidateNickname checks a nickname without storing it.
func ValidateNickname(text string) (string, error) {
	return validate(text, MaxNicknameLen)
}

// ValidateBio checks a bio without storing it.
func ValidateBio(text string) (string, error) {
	return validate(text, MaxBioLen)
}

func validate(text string, limit int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(text) > limit {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, utf8.RuneCountInString(text), limit)
	}
	return text, nil
}

func (s *Store) SetNickname(ctx context.Context, username, nickname string) error {
	nickname, err := ValidateNickname(nickname)
	if err != nil {
		return fmt.Errorf("nickname: %w", err)
	}
	return s.update(ctx, username, func(p *domain.Profile) bool {
		p.Nickname = nickname
		return true
	})
}

func (s *Store) SetBio(ctx context.Context, username, bio string) error {
	bio, err := ValidateBio(bio)
	if err != nil {
		return fmt.Errorf("bio: %w", err)
	}
	return s.update(ctx, username, func(p *domain.Profile) bool {
		p.Bio = bio
		return true
	})
}

// AddInterest appends interest unless an identical one is present.
func (s *Store) AddInterest(ctx context.Context, username, interest string) error {
	interest, err := validate(interest, MaxInterestLen)
	if err != nil {
		return fmt.Errorf("interest: %w", err)
	}
	return s.update(ctx, username, func(p *domain.Profile) bool {
		for _, existing := range p.Interests {
			if existing == interest {
				return false
			}
		}
		p.Interests = append(p.Interests, interest)
		return true
	})
}

func (s *Store) RemoveInterest(ctx context.Context, username, interest string) error {
	interest = strings.TrimSpace(interest)
	return s.update(ctx, username, func(p *domain.Profile) bool {
		for i, existing := range p.Interests {
			if existing == interest {
				p.Interests = append(p.Interests[:i], p.Interests[i+1:]...)
				return true
			}
		}
		return false
	})
}

// update applies fn to the (possibly new) profile and persists when fn
// reports a change or when the profile was just created.
func (s *Store) update(ctx context.Context, username string, fn func(*domain.Profile) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeUsername(username)
	p, existed := s.profiles[key]
	p = p.Clone()
	changed := fn(&p)
	if !changed && existed {
		return nil
	}
	s.profiles[key] = p
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	if s.unread {
		loaded, err := s.persist.LoadProfiles(ctx)
		if err != nil {
			s.logger.Error("profiles still unreadable, not saving", "err", err)
			return fmt.Errorf("persist profiles: %w", err)
		}
		s.unread = false
		for name, p := range loaded {
			key := domain.NormalizeUsername(name)
			if _, ok := s.profiles[key]; !ok {
				s.profiles[key] = p.Clone()
			}
		}
	}
	snapshot := make(map[string]domain.Profile, len(s.profiles))
	for k, p := range s.profiles {
		snapshot[k] = p.Clone()
	}
	if err := s.persist.SaveProfiles(ctx, snapshot); err != nil {
		s.logger.Error("cannot persist profiles", "err", err)
		return fmt.Errorf("persist profiles: %w", err)
	}
	return nil
}

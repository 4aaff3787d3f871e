package domain

import "context"

// BindingStore persists the username -> chat id map independently of the roster.
type BindingStore interface {
	LoadBindings(ctx context.Context) (map[string]int64, error)
	// SaveBindings replaces the stored snapshot. Implementations must not
	// leave a partially written snapshot behind on failure.
	SaveBindings(ctx context.Context, bindings map[string]int64) error
}

// ProfileStore persists every profile as one snapshot.
type ProfileStore interface {
	LoadProfiles(ctx context.Context) (map[string]Profile, error)
	SaveProfiles(ctx context.Context, profiles map[string]Profile) error
}

// Profile is a participant's optional self-description.
type Profile struct {
	Nickname  string   `json:"nickname" yaml:"nickname"`
	Bio       string   `json:"bio" yaml:"bio"`
	Interests []string `json:"interests" yaml:"interests"`
}

// Clone returns a deep copy so callers cannot alias store internals.
func (p Profile) Clone() Profile {
	out := p
	out.Interests = make([]string, len(p.Interests))
	copy(out.Interests, p.Interests)
	return out
}

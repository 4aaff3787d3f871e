// Package directory holds the roster and the angel/mortal pairing graph.
//
// Participants live in a map keyed by normalized username; pairing fields are
// keys into the same map, so the cyclic graph never forms pointer cycles.
package directory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// Directory is safe for concurrent use. Accessors return copies.
type Directory struct {
	mu           sync.RWMutex
	participants map[string]*domain.Participant
	logger       *slog.Logger
}

func New(logger *slog.Logger) *Directory {
	return &Directory{
		participants: make(map[string]*domain.Participant),
		logger:       logger,
	}
}

// Add registers a username, returning the existing record when already present.
func (d *Directory) Add(username string) domain.Participant {
	key := domain.NormalizeUsername(username)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.participants[key]
	if !ok {
		p = &domain.Participant{Username: key}
		d.participants[key] = p
	}
	return *p
}

// Get looks up a participant by username (case-insensitive).
func (d *Directory) Get(username string) (domain.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.participants[domain.NormalizeUsername(username)]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Partner resolves the participant holding role r for username.
func (d *Directory) Partner(username string, r domain.Role) (domain.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.participants[domain.NormalizeUsername(username)]
	if !ok {
		return domain.Participant{}, false
	}
	partner, ok := d.participants[p.Partner(r)]
	if !ok {
		return domain.Participant{}, false
	}
	return *partner, true
}

// SetPairing wires angel and mortal for username. Unknown names leave the
// record untouched and are logged, so one bad roster row cannot abort a load.
func (d *Directory) SetPairing(username, angel, mortal string) bool {
	key := domain.NormalizeUsername(username)
	angelKey := domain.NormalizeUsername(angel)
	mortalKey := domain.NormalizeUsername(mortal)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, okP := d.participants[key]
	_, okA := d.participants[angelKey]
	_, okM := d.participants[mortalKey]
	if !okP || !okA || !okM {
		d.logger.Warn("skipping pairing with unknown participant",
			"username", key, "angel", angelKey, "mortal", mortalKey,
			"known_self", okP, "known_angel", okA, "known_mortal", okM,
		)
		return false
	}
	p.Angel = angelKey
	p.Mortal = mortalKey
	return true
}

// Violations lists every participant whose pairing is broken. An empty result
// means P.angel.mortal == P and P.mortal.angel == P for all P, and nobody is
// their own angel or mortal.
func (d *Directory) Violations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var problems []string
	for _, name := range d.sortedKeysLocked() {
		p := d.participants[name]
		if !p.Paired() {
			problems = append(problems, fmt.Sprintf("%s: missing angel or mortal", name))
			continue
		}
		if p.Angel == name || p.Mortal == name {
			problems = append(problems, fmt.Sprintf("%s: paired with self", name))
			continue
		}
		angel, ok := d.participants[p.Angel]
		if !ok || angel.Mortal != name {
			problems = append(problems, fmt.Sprintf("%s: angel %s does not have %s as mortal", name, p.Angel, name))
		}
		mortal, ok := d.participants[p.Mortal]
		if !ok || mortal.Angel != name {
			problems = append(problems, fmt.Sprintf("%s: mortal %s does not have %s as angel", name, p.Mortal, name))
		}
	}
	return problems
}

// ValidatePairings reports whether the graph is a consistent permutation.
func (d *Directory) ValidatePairings() bool {
	problems := d.Violations()
	for _, p := range problems {
		d.logger.Error("pairing violation", "detail", p)
	}
	return len(problems) == 0
}

// Bind attaches a chat id to a known participant.
func (d *Directory) Bind(username string, chatID int64) (domain.Participant, error) {
	key := domain.NormalizeUsername(username)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.participants[key]
	if !ok {
		return domain.Participant{}, fmt.Errorf("bind %q: %w", key, domain.ErrUnknownParticipant)
	}
	p.ChatID = chatID
	return *p, nil
}

// Bindings returns a snapshot of every bound chat id.
func (d *Directory) Bindings() map[string]int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]int64)
	for name, p := range d.participants {
		if p.Registered() {
			out[name] = p.ChatID
		}
	}
	return out
}

// Participants returns every record sorted by username.
func (d *Directory) Participants() []domain.Participant {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Participant, 0, len(d.participants))
	for _, name := range d.sortedKeysLocked() {
		out = append(out, *d.participants[name])
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}

// Cycles decomposes the mortal links into disjoint cycles, each starting at its
// lexically smallest member. Participants on a broken chain are omitted.
func (d *Directory) Cycles() [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var cycles [][]string
	for _, start := range d.sortedKeysLocked() {
		if seen[start] {
			continue
		}
		var cycle []string
		cur := start
		ok := false
		for i := 0; i <= len(d.participants); i++ {
			if cur == start && i > 0 {
				ok = true
				break
			}
			p, exists := d.participants[cur]
			if !exists || seen[cur] {
				break
			}
			cycle = append(cycle, cur)
			cur = p.Mortal
		}
		if !ok {
			seen[start] = true
			continue
		}
		for _, name := range cycle {
			seen[name] = true
		}
		cycles = append(cycles, cycle)
	}
	return cycles
}

func (d *Directory) sortedKeysLocked() []string {
	keys := make([]string, 0, len(d.participants))
	for k := range d.participants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

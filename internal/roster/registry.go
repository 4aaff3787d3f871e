package roster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felii30/angel-and-mortal-bot/internal/directory"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// Registry binds participants to chats and writes every change through to the store.
type Registry struct {
	dir    *directory.Directory
	store  domain.BindingStore
	logger *slog.Logger

	// mu orders snapshot+save pairs so an older snapshot never overwrites a newer one.
	mu sync.Mutex
	// unread is set while the store could not be read. Saving a snapshot then
	// would replace bindings that were never loaded.
	unread bool
}

func NewRegistry(dir *directory.Directory, store domain.BindingStore, logger *slog.Logger) *Registry {
	return &Registry{dir: dir, store: store, logger: logger}
}

// LoadBindings attaches persisted chat ids to directory entries. A store that
// cannot be read is logged and treated as empty so startup never crash-loops.
func (r *Registry) LoadBindings(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings, err := r.store.LoadBindings(ctx)
	if err != nil {
		r.unread = true
		r.logger.Error("cannot load chat bindings, starting with none", "err", err)
		return nil
	}
	r.logger.Info("chat bindings loaded", "bindings", r.attachLocked(bindings, false))
	return nil
}

// attachLocked binds stored chat ids. With keepExisting a participant that
// already has a binding in memory keeps it.
func (r *Registry) attachLocked(bindings map[string]int64, keepExisting bool) int {
	attached := 0
	for username, chatID := range bindings {
		if chatID == 0 {
			continue
		}
		if keepExisting {
			if p, ok := r.dir.Get(username); ok && p.Registered() {
				continue
			}
		}
		if _, err := r.dir.Bind(username, chatID); err != nil {
			r.logger.Warn("ignoring binding for participant not on roster", "username", username)
			continue
		}
		attached++
	}
	return attached
}

// saveLocked writes the snapshot, first re-reading a store that failed to
// load. While the store stays unreadable nothing is written.
func (r *Registry) saveLocked(ctx context.Context) error {
	if r.unread {
		bindings, err := r.store.LoadBindings(ctx)
		if err != nil {
			return fmt.Errorf("bindings store still unreadable, not saving: %w", err)
		}
		r.unread = false
		r.logger.Info("chat bindings recovered", "bindings", r.attachLocked(bindings, true))
	}
	return r.store.SaveBindings(ctx, r.dir.Bindings())
}

// Register binds chatID to username and persists the new snapshot. The
// in-memory binding survives a failed save; the save error is returned.
func (r *Registry) Register(ctx context.Context, username string, chatID int64) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.dir.Bind(username, chatID)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("register: %w", domain.ErrNotRegistered)
	}
	if err := r.saveLocked(ctx); err != nil {
		return p, fmt.Errorf("persist bindings: %w", err)
	}
	r.logger.Info("participant registered", "username", p.Username)
	return p, nil
}

// Persist writes the current snapshot.
func (r *Registry) Persist(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx)
}

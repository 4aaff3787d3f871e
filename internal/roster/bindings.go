package roster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/jsonfile"
)

// BindingFile stores bindings as a JSON object of username -> chat id.
type BindingFile struct {
	path   string
	logger *slog.Logger
}

func NewBindingFile(path string, logger *slog.Logger) *BindingFile {
	return &BindingFile{path: path, logger: logger}
}

// LoadBindings returns the stored map. A missing file is created empty. An
// unreadable file is moved aside so the next save does not destroy it.
func (b *BindingFile) LoadBindings(ctx context.Context) (map[string]int64, error) {
	bindings := make(map[string]int64)
	err := jsonfile.Read(b.path, &bindings)
	switch {
	case err == nil:
		return bindings, nil
	case jsonfile.IsNotExist(err):
		b.logger.Warn("bindings file not found, creating new file", "path", b.path)
		if err := jsonfile.Write(b.path, map[string]int64{}); err != nil {
			return map[string]int64{}, fmt.Errorf("create bindings file: %w", err)
		}
		return map[string]int64{}, nil
	default:
		quarantine := fmt.Sprintf("%s.corrupt-%s", b.path, time.Now().UTC().Format("20060102-150405"))
		if rerr := os.Rename(b.path, quarantine); rerr == nil {
			b.logger.Error("bindings file unreadable, moved aside", "path", b.path, "moved_to", quarantine, "err", err)
		}
		return map[string]int64{}, err
	}
}

func (b *BindingFile) SaveBindings(ctx context.Context, bindings map[string]int64) error {
	if bindings == nil {
		bindings = map[string]int64{}
	}
	return jsonfile.Write(b.path, bindings)
}

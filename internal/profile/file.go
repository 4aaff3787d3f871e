package profile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/jsonfile"
)

// File persists profiles as a JSON object of username -> profile.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// LoadProfiles returns an empty map when the file does not exist yet. An
// unreadable file is moved aside so the next save does not destroy it.
func (f *File) LoadProfiles(ctx context.Context) (map[string]domain.Profile, error) {
	profiles := make(map[string]domain.Profile)
	err := jsonfile.Read(f.path, &profiles)
	switch {
	case err == nil:
		return profiles, nil
	case jsonfile.IsNotExist(err):
		return map[string]domain.Profile{}, nil
	default:
		quarantine := fmt.Sprintf("%s.corrupt-%s", f.path, time.Now().UTC().Format("20060102-150405"))
		if rerr := os.Rename(f.path, quarantine); rerr == nil {
			return nil, fmt.Errorf("profiles file unreadable, moved to %s: %w", quarantine, err)
		}
		return nil, err
	}
}

func (f *File) SaveProfiles(ctx context.Context, profiles map[string]domain.Profile) error {
	return jsonfile.Write(f.path, profiles)
}

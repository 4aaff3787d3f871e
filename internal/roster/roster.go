// Package roster loads the participant roster and keeps live chat bindings
// persisted across restarts.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/felii30/angel-and-mortal-bot/internal/directory"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// Row is one roster line: a participant and the names of their angel and mortal.
type Row struct {
	Line     int
	Username string
	Angel    string
	Mortal   string
}

// Parse reads comma-separated rows, skipping the header. Names are case-folded.
// Rows without a username are dropped; rows with missing pairing columns are
// kept so the participant still exists and fails validation later.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []Row
	header := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		if header {
			header = false
			continue
		}
		line, _ := cr.FieldPos(0)
		row := Row{Line: line}
		if len(rec) > 0 {
			row.Username = domain.NormalizeUsername(rec[0])
		}
		if len(rec) > 1 {
			row.Angel = domain.NormalizeUsername(rec[1])
		}
		if len(rec) > 2 {
			row.Mortal = domain.NormalizeUsername(rec[2])
		}
		if row.Username == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Populate fills dir in two passes: every participant first, then pairings,
// so rows may reference names defined further down.
func Populate(dir *directory.Directory, rows []Row, logger *slog.Logger) {
	for _, row := range rows {
		dir.Add(row.Username)
	}
	for _, row := range rows {
		if row.Angel == "" || row.Mortal == "" {
			logger.Warn("roster row missing angel or mortal", "line", row.Line, "username", row.Username)
			continue
		}
		if dir.SetPairing(row.Username, row.Angel, row.Mortal) {
			logger.Debug("pairing loaded", "username", row.Username, "angel", row.Angel, "mortal", row.Mortal)
		}
	}
}

// Load parses the roster at path into dir and validates the pairing graph.
// Every failure is a *domain.ConfigurationError.
func Load(path string, dir *directory.Directory, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return &domain.ConfigurationError{Op: "open roster", Err: err}
	}
	defer f.Close()

	rows, err := Parse(f)
	if err != nil {
		return &domain.ConfigurationError{Op: "parse roster " + path, Err: err}
	}
	if len(rows) == 0 {
		return &domain.ConfigurationError{Op: "load roster " + path, Err: errors.New("roster has no participants")}
	}

	Populate(dir, rows, logger)

	if problems := dir.Violations(); len(problems) > 0 {
		for _, p := range problems {
			logger.Error("pairing violation", "detail", p)
		}
		return &domain.ConfigurationError{
			Op:  "validate pairings",
			Err: fmt.Errorf("%d invalid pairing(s):\n  - %s", len(problems), strings.Join(problems, "\n  - ")),
		}
	}

	logger.Info("roster loaded", "path", path, "participants", dir.Len(), "cycles", len(dir.Cycles()))
	return nil
}

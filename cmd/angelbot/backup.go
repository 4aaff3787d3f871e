package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the roster, bindings, profiles and config",
		Long: `Creates a compressed .tar.gz archive containing the roster, the persisted
bindings and profiles (JSON files or SQLite database) and the config file.
The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(cfg.Data.Dir, "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().UTC().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("angelbot-backup-%s.tar.gz", ts))
			}

			var candidates []string
			candidates = append(candidates, cfg.Paths()...)
			if cfg.Storage.Backend == "sqlite" {
				db := cfg.Data.DatabasePath()
				candidates = append(candidates, db+"-wal", db+"-shm")
			}
			candidates = append(candidates, resolveConfigPath())

			files := existingFiles(candidates)
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (looked for %v)", candidates)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Fprintf(out, "  - %s (%s)\n", filepath.Base(f), humanize.IBytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <data.dir>/backups/angelbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore data files from a backup archive",
		Long: `Restores files from an archive created by 'angelbot backup' to the
locations named by the current config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			targets := make(map[string]string)
			paths := append(cfg.Paths(), resolveConfigPath())
			if cfg.Storage.Backend == "sqlite" {
				db := cfg.Data.DatabasePath()
				paths = append(paths, db+"-wal", db+"-shm")
			}
			for _, p := range paths {
				targets[filepath.Base(p)] = p
			}

			if existing := existingFiles(paths); len(existing) > 0 && !force {
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: This will overwrite existing data:\n")
				for _, p := range existing {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", p)
				}
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func existingFiles(paths []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}

// createTarGz creates a .tar.gz archive from the given files.
func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}
	return outFile.Sync()
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	// Use just the base filename in the archive.
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes each archived file whose name is in targets to the
// mapped path. Unknown entries are skipped.
func extractTarGz(archivePath string, targets map[string]string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		targetPath, ok := targets[filepath.Base(header.Name)]
		if !ok {
			logger.Warn("skipping unknown archive entry", "name", header.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		if err := writeFile(targetPath, tarReader, fs.FileMode(header.Mode).Perm()); err != nil {
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		restored = append(restored, targetPath)
	}
	return restored, nil
}

func writeFile(path string, r io.Reader, perm fs.FileMode) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/config"
	"github.com/felii30/angel-and-mortal-bot/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your angelbot setup",
		Long: `Verifies that the configuration, roster, storage and Telegram token are
correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("angelbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				fmt.Printf("\nRun 'angelbot init' to create a default configuration.\n")
				return fmt.Errorf("config invalid")
			}
			printPass("Config", resolveConfigPath())
			passed++

			// 2. Roster
			if dir, err := loadRoster(cfg, logger); err != nil {
				printFail("Roster", err.Error())
				failed++
			} else {
				printPass("Roster", fmt.Sprintf("%d participants, %d cycles", dir.Len(), len(dir.Cycles())))
				passed++
			}

			// 3. Data directory writable
			if err := checkWritable(cfg.Data.Dir); err != nil {
				printFail("Data dir", err.Error())
				failed++
			} else {
				printPass("Data dir", cfg.Data.Dir)
				passed++
			}

			// 4. Storage backend
			if cfg.Storage.Backend == "sqlite" {
				if err := checkDatabase(cfg.Data.DatabasePath()); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Data.DatabasePath())
					passed++
				}
			} else {
				for _, path := range []string{cfg.Data.BindingsPath(), cfg.Data.ProfilesPath()} {
					if _, err := os.Stat(path); err != nil {
						printWarn("State file", fmt.Sprintf("%s not found (created on first run)", path))
						warned++
					} else {
						printPass("State file", path)
						passed++
					}
				}
			}

			// 5. Log directory
			if cfg.Log.Dir != "" {
				if err := checkWritable(cfg.Log.Dir); err != nil {
					printWarn("Log dir", err.Error())
					warned++
				} else {
					printPass("Log dir", cfg.Log.Dir)
					passed++
				}
			}

			// 6. Telegram token
			switch {
			case cfg.Telegram.Token == "":
				printFail("Telegram token", "not set (telegram.token or "+config.TokenEnv+")")
				failed++
			case offline:
				printWarn("Telegram token", "set, not verified (--offline)")
				warned++
			default:
				bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
				if err != nil {
					printFail("Telegram token", err.Error())
					failed++
				} else {
					printPass("Telegram token", "@"+bot.Self.UserName)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running angelbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nangelbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! angelbot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Telegram API call")
	return cmd
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if v == 0 {
		return fmt.Errorf("no migrations applied in %s", filepath.Base(dbPath))
	}
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

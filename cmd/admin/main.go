package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"calcchat/backend/internal/config"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/storage"
	"calcchat/backend/internal/vault"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func usage() {
	fmt.Println("Usage: admin <command> [args]")
	fmt.Println("  status                          show the stored presence rows and code ages")
	fmt.Println("  clear-history                   delete every renderable message")
	fmt.Println("  set-code <calculator|user-a> <code>")
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db, cfg.PublicBaseURL)
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]

	switch command {
	case "status":
		if err := printStatus(ctx, storageSvc); err != nil {
			log.Fatalf("Error reading status: %v", err)
		}
		codes, err := vault.Open(cfg.VaultPath, nil)
		if err != nil {
			log.Fatalf("Error opening vault: %v", err)
		}
		defer codes.Close()
		if err := printCodes(ctx, os.Stdout, codes); err != nil {
			log.Fatalf("Error reading vault: %v", err)
		}
	case "clear-history":
		n, err := storageSvc.DeleteMessages(ctx, models.ChatID, models.RenderableTypes)
		if err != nil {
			log.Fatalf("Error clearing history: %v", err)
		}
		fmt.Printf("Deleted %d messages.\n", n)
	case "set-code":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin set-code <calculator|user-a> <code>")
			os.Exit(1)
		}
		if err := setCode(ctx, storageSvc, cfg, os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("Error setting code: %v", err)
		}
		fmt.Printf("Code %s has been updated.\n", os.Args[2])
	default:
		fmt.Println("Unknown command")
		usage()
	}
}

func printStatus(ctx context.Context, s storage.Storage) error {
	for _, id := range []models.Identity{models.IdentityA, models.IdentityS} {
		status, err := s.GetUserStatus(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Printf("%s: no status row\n", id)
			continue
		}
		if err != nil {
			return err
		}
		fresh := status.IsFresh(time.Now(), config.FreshnessWindow)
		fmt.Printf("%s: online=%t last_seen=%s fresh=%t\n", id, status.Online, status.LastSeen.Format(time.RFC3339), fresh)
	}
	return nil
}

var codeNames = []struct{ name, key string }{
	{"calculator", vault.KeyCalculator},
	{"user-a", vault.KeyUserA},
}

// printCodes reports when each cached code was last set in the local vault.
func printCodes(ctx context.Context, w io.Writer, codes *vault.Vault) error {
	for _, c := range codeNames {
		at, err := codes.UpdatedAt(ctx, c.key)
		if err != nil {
			return err
		}
		if at.IsZero() {
			fmt.Fprintf(w, "code %s: default\n", c.name)
			continue
		}
		fmt.Fprintf(w, "code %s: set %s\n", c.name, at.Format(time.RFC3339))
	}
	return nil
}

// setCode writes the code to the local vault and sends the control message the
// chat devices sync from.
func setCode(ctx context.Context, s storage.Storage, cfg *config.Config, which, code string) error {
	var (
		key string
		typ models.MessageType
	)
	switch which {
	case "calculator":
		key, typ = vault.KeyCalculator, models.MessageCalculatorPassword
	case "user-a":
		key, typ = vault.KeyUserA, models.MessageUserAPassword
	default:
		return errors.Errorf("unknown code %q", which)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return vault.ErrEmptyCode
	}

	codes, err := vault.Open(cfg.VaultPath, nil)
	if err != nil {
		return err
	}
	defer codes.Close()
	if _, err := codes.Set(ctx, key, code, time.Now()); err != nil {
		return err
	}

	return s.InsertMessage(ctx, &models.Message{
		ChatID:   models.ChatID,
		Sender:   models.IdentityA,
		Receiver: models.IdentityS,
		Type:     typ,
		Content:  code,
		Seen:     true,
	})
}

// Package json persists the account records as a single JSON file. The file
// is the source of truth for account identity, sizing overrides and the
// master runtime switches.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Store reads and writes the accounts file. Saves are atomic: the new
// content is written to a temp file and renamed over the old one.
type Store struct {
	path     string
	password string // non-empty enables encrypted api_secret values
	logger   *slog.Logger

	mu sync.Mutex
	// ciphertext per account, so saving never writes decrypted secrets back
	ciphers map[int]cipherEntry
}

type cipherEntry struct {
	cipher string
	plain  string
}

// NewStore builds a store over path. When password is non-empty, api_secret
// values holding an encrypted-secret JSON blob are decrypted on load.
func NewStore(path, password string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     path,
		password: password,
		logger:   logger.With(slog.String("component", "config_store")),
		ciphers:  make(map[int]cipherEntry),
	}
}

// Load reads the accounts file. A missing file seeds a lone master record.
// Followers always come up disabled and the master's runtime switches are
// cleared, so a restarted relay never resumes trading until the operator
// arms it again.
func (s *Store) Load(ctx context.Context) (map[int]*domain.FollowerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.InfoContext(ctx, "accounts file missing, seeding master record",
			slog.String("path", s.path))
		accounts := map[int]*domain.FollowerConfig{
			0: {ID: 0, Role: "master", Name: "master"},
		}
		if err := s.saveLocked(accounts); err != nil {
			return nil, err
		}
		return accounts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json: read accounts: %w", err)
	}

	var records []domain.FollowerConfig
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("json: parse accounts: %w", err)
	}

	accounts := make(map[int]*domain.FollowerConfig, len(records))
	for i := range records {
		rec := records[i]
		if rec.ID < 0 {
			return nil, fmt.Errorf("json: account id %d: negative id", rec.ID)
		}
		if _, dup := accounts[rec.ID]; dup {
			return nil, fmt.Errorf("json: account id %d: duplicate", rec.ID)
		}
		if rec.ID == 0 {
			rec.Role = "master"
			rec.TradingEnabled = false
			rec.StopFlag = false
		} else {
			rec.Role = "copy"
			rec.Enabled = false
		}
		if err := s.decryptSecret(&rec); err != nil {
			return nil, err
		}
		accounts[rec.ID] = &rec
	}

	if _, ok := accounts[0]; !ok {
		accounts[0] = &domain.FollowerConfig{ID: 0, Role: "master", Name: "master"}
	}

	s.logger.InfoContext(ctx, "accounts loaded",
		slog.String("path", s.path), slog.Int("count", len(accounts)))
	return accounts, nil
}

// Save writes the full account set atomically, sorted by id.
func (s *Store) Save(ctx context.Context, accounts map[int]*domain.FollowerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(accounts)
}

func (s *Store) saveLocked(accounts map[int]*domain.FollowerConfig) error {
	ids := make([]int, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	records := make([]domain.FollowerConfig, 0, len(ids))
	for _, id := range ids {
		rec := *accounts[id]
		// Never persist a secret we decrypted ourselves.
		if ce, ok := s.ciphers[id]; ok && ce.plain == rec.Exchange.APISecret {
			rec.Exchange.APISecret = ce.cipher
		}
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("json: encode accounts: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("json: temp accounts file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("json: write accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("json: close accounts: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("json: chmod accounts: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("json: replace accounts: %w", err)
	}
	return nil
}

// decryptSecret replaces an encrypted api_secret blob with its plaintext,
// remembering the ciphertext so Save can restore it.
func (s *Store) decryptSecret(rec *domain.FollowerConfig) error {
	secret := rec.Exchange.APISecret
	if !strings.HasPrefix(strings.TrimSpace(secret), "{") {
		return nil
	}
	if s.password == "" {
		return fmt.Errorf("json: account %d: encrypted api_secret but no secrets password", rec.ID)
	}
	plain, err := crypto.DecryptSecret([]byte(secret), s.password)
	if err != nil {
		return fmt.Errorf("json: account %d: %w", rec.ID, err)
	}
	s.ciphers[rec.ID] = cipherEntry{cipher: secret, plain: plain}
	rec.Exchange.APISecret = plain
	return nil
}

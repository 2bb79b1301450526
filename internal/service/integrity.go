package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/storage"
)

// StalePendingAfter is how long a pending attempt may go untouched before the
// doctor reports it.
const StalePendingAfter = 24 * time.Hour

type BackupInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

type DoctorReport struct {
	CartMalformed        bool `json:"cart_malformed"`
	InvalidCartLines     int  `json:"invalid_cart_lines"`
	DuplicateCartLines   int  `json:"duplicate_cart_lines"`
	SessionExpired       bool `json:"session_expired"`
	StalePendingAttempts int  `json:"stale_pending_attempts"`
	FixedCart            bool `json:"fixed_cart,omitempty"`
	ClearedSession       bool `json:"cleared_session,omitempty"`
	AbandonedAttempts    int  `json:"abandoned_attempts,omitempty"`
}

func (r DoctorReport) Healthy() bool {
	return !r.CartMalformed && r.InvalidCartLines == 0 && r.DuplicateCartLines == 0 &&
		!r.SessionExpired && r.StalePendingAttempts == 0
}

// RunDoctor inspects the local cart slot, the session token and the attempt
// ledger. With fix it rewrites the cart in normalized form, drops an expired
// session and abandons stale pending attempts.
func RunDoctor(ctx context.Context, db *sql.DB, kv storage.KV, now time.Time, fix bool) (DoctorReport, error) {
	report := DoctorReport{}

	raw, err := kv.Get(ctx, storage.KeyCart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return report, fmt.Errorf("doctor cart read: %w", err)
	default:
		var lines []model.CartLine
		if err := json.Unmarshal(raw, &lines); err != nil {
			report.CartMalformed = true
			lines = nil
		} else {
			report.InvalidCartLines, report.DuplicateCartLines = inspectCartLines(lines)
		}
		if fix && (report.CartMalformed || report.InvalidCartLines > 0 || report.DuplicateCartLines > 0) {
			normalized := cart.Normalize(lines)
			fixed, err := json.Marshal(normalized)
			if err != nil {
				return report, fmt.Errorf("doctor cart marshal: %w", err)
			}
			if err := kv.Set(ctx, storage.KeyCart, fixed); err != nil {
				return report, fmt.Errorf("doctor cart rewrite: %w", err)
			}
			report.FixedCart = true
		}
	}

	token, err := kv.Get(ctx, storage.KeyToken)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return report, fmt.Errorf("doctor session read: %w", err)
	default:
		report.SessionExpired = api.TokenExpired(string(token), now)
		if fix && report.SessionExpired {
			for _, key := range []string{storage.KeyToken, storage.KeyUser} {
				if err := kv.Delete(ctx, key); err != nil {
					return report, fmt.Errorf("doctor session clear: %w", err)
				}
			}
			report.ClearedSession = true
		}
	}

	cutoff := now.Add(-StalePendingAfter)
	if report.StalePendingAttempts, err = countStaleAttempts(ctx, db, cutoff); err != nil {
		return report, err
	}
	if fix && report.StalePendingAttempts > 0 {
		if report.AbandonedAttempts, err = AbandonStaleAttempts(ctx, db, cutoff); err != nil {
			return report, err
		}
	}
	return report, nil
}

func inspectCartLines(lines []model.CartLine) (invalid, duplicates int) {
	seen := map[string]bool{}
	for _, l := range lines {
		id := strings.TrimSpace(l.ItemID)
		if id == "" || l.Quantity <= 0 || l.UnitPrice < 0 || l.ProteinGrams < 0 || l.Calories < 0 {
			invalid++
			continue
		}
		if seen[id] {
			duplicates++
			continue
		}
		seen[id] = true
	}
	return invalid, duplicates
}

// CreateBackup snapshots the database with VACUUM INTO, which is consistent
// even while another process holds the file open.
func CreateBackup(db *sql.DB, outPath string) (BackupInfo, error) {
	if strings.TrimSpace(outPath) == "" {
		return BackupInfo{}, fmt.Errorf("backup output path is required")
	}
	if _, err := os.Stat(outPath); err == nil {
		return BackupInfo{}, fmt.Errorf("backup %s already exists", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := db.Exec(`VACUUM INTO ?`, outPath); err != nil {
		return BackupInfo{}, fmt.Errorf("snapshot database: %w", err)
	}
	checksum, err := fileSHA256(outPath)
	if err != nil {
		return BackupInfo{}, err
	}
	if err := os.WriteFile(outPath+".sha256", []byte(checksum+"\n"), 0o644); err != nil {
		return BackupInfo{}, fmt.Errorf("write checksum file: %w", err)
	}
	st, err := os.Stat(outPath)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("stat backup: %w", err)
	}
	return BackupInfo{Path: outPath, Checksum: checksum, CreatedAt: st.ModTime(), SizeBytes: st.Size()}, nil
}

func RestoreBackup(backupPath, dbPath string, force bool) error {
	if strings.TrimSpace(backupPath) == "" || strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("backup path and db path are required")
	}
	if !force {
		if _, err := os.Stat(dbPath); err == nil {
			return fmt.Errorf("target db already exists; use --force to overwrite")
		}
	}
	if expected, err := os.ReadFile(backupPath + ".sha256"); err == nil {
		actual, err := fileSHA256(backupPath)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(expected)) != actual {
			return fmt.Errorf("backup checksum mismatch")
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	return copyFile(backupPath, dbPath)
}

func ListBackups(dir string) ([]BackupInfo, error) {
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	out := make([]BackupInfo, 0)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".db") {
			continue
		}
		full := filepath.Join(dir, f.Name())
		st, err := os.Stat(full)
		if err != nil {
			continue
		}
		checksum := ""
		if b, err := os.ReadFile(full + ".sha256"); err == nil {
			checksum = strings.TrimSpace(string(b))
		}
		out = append(out, BackupInfo{Path: full, Checksum: checksum, CreatedAt: st.ModTime(), SizeBytes: st.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync destination file: %w", err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/metrics"
)

const bytesPerMB = 1024 * 1024

// List returns the backup records directly under root, oldest first
func List(root string) ([]domain.BackupRecord, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var records []domain.BackupRecord
	for _, entry := range entries {
		if !domain.IsBackupName(entry.Name()) {
			continue
		}
		p := filepath.Join(root, entry.Name())
		info, err := os.Lstat(p)
		if err != nil {
			return nil, err
		}

		size := info.Size()
		if info.IsDir() {
			if size, err = treeSize(p); err != nil {
				return nil, err
			}
		}

		records = append(records, domain.BackupRecord{
			Path:    p,
			Name:    entry.Name(),
			Size:    size,
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ModTime.Equal(records[j].ModTime) {
			return records[i].Name < records[j].Name
		}
		return records[i].ModTime.Before(records[j].ModTime)
	})
	return records, nil
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Budget returns the configured budget in bytes; ok is false when unset
func Budget(cfg config.Accessor) (int64, bool) {
	if !cfg.IsSet(config.KeyMaxBackupsSizeMB) {
		return 0, false
	}
	mb := cfg.GetInt64(config.KeyMaxBackupsSizeMB)
	if mb < 0 {
		return 0, false
	}
	return mb * bytesPerMB, true
}

// evict deletes the oldest backups until the total fits the budget.
// The newest backup is never a candidate.
func (e *Engine) evict(ctx context.Context) error {
	root, err := e.resolver.BackupsRoot()
	if err != nil {
		return err
	}

	records, err := List(root)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	var total int64
	for _, r := range records {
		total += r.Size
	}
	defer func() { metrics.BackupsFolderBytes.Set(float64(total)) }()

	if len(records) <= 1 {
		return nil
	}

	budget, ok := Budget(e.cfg)
	if !ok || total <= budget {
		return nil
	}

	for _, r := range records[:len(records)-1] {
		if total <= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := os.RemoveAll(r.Path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", r.Name, err)
		}
		total -= r.Size

		metrics.EvictedBackups.Inc()
		e.log.Info("deleted old backup", "archive", r.Path, "size", r.Size)
		e.emit(domain.BackupDeleted, r.Path)
	}
	return nil
}

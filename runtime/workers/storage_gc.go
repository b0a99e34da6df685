package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StorageGCWorker reclaims BadgerDB value-log space on a fixed interval.
// Connection rows and typing-free chat traffic churn small values, so one
// pass per interval is enough; the loop drains consecutive rewrites until
// badger reports nothing left to collect.
type StorageGCWorker struct {
	log      *slog.Logger
	db       *badger.DB
	interval time.Duration
}

func NewStorageGCWorker(log *slog.Logger, db *badger.DB, interval time.Duration) *StorageGCWorker {
	return &StorageGCWorker{log: log, db: db, interval: interval}
}

func (w *StorageGCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping storage GC")
			return nil
		case <-ticker.C:
			rewrites := 0
			for {
				if err := w.db.RunValueLogGC(0.5); err != nil {
					if err != badger.ErrNoRewrite {
						w.log.Warn("Value log GC failed", "err", err)
					}
					break
				}
				rewrites++
			}
			if rewrites > 0 {
				w.log.Debug("Value log GC pass done", "rewrites", rewrites)
			}
		}
	}
}

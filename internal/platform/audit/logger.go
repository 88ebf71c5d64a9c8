package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"hookgate/internal/pkg/logger"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

const (
	KindViolation = "violation"
	KindBlock     = "ip_blocked"
	KindUnblock   = "ip_unblocked"
	KindClear     = "violations_cleared"
	KindPolicy    = "policy_updated"
	KindAlert     = "alert"
)

// Logger writes security audit entries off the request path.
type Logger struct {
	db  *database.DB
	log zerolog.Logger
	wg  sync.WaitGroup
	now func() time.Time
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db, log: logger.Component("audit"), now: time.Now}
}

// Record stores an entry asynchronously. Write failures are logged, never
// returned, so a degraded audit table cannot reject traffic.
func (l *Logger) Record(entry models.SecurityAuditEntry) {
	if entry.ID == "" {
		entry.ID = "audit_" + uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = l.now().Unix()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.insert(ctx, entry); err != nil {
			l.log.Error().Err(err).Str("kind", entry.Kind).Str("ip", entry.IP).Msg("failed to write audit entry")
		}
	}()
}

// Wait blocks until pending writes are done.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) insert(ctx context.Context, e models.SecurityAuditEntry) error {
	metaJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	if e.Detail == nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO security_audit_log (id, kind, ip_address, platform, rule, actor, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query, e.ID, e.Kind, e.IP, e.Platform, e.Rule, e.Actor, string(metaJSON), e.CreatedAt)
	return err
}

func (l *Logger) List(ctx context.Context, f models.AuditFilter) ([]*models.SecurityAuditEntry, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.IP != "" {
		where = append(where, "ip_address = ?")
		args = append(args, f.IP)
	}
	if f.Since > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, kind, ip_address, platform, rule, actor, metadata, created_at FROM security_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SecurityAuditEntry
	for rows.Next() {
		var e models.SecurityAuditEntry
		var meta string
		if err := rows.Scan(&e.ID, &e.Kind, &e.IP, &e.Platform, &e.Rule, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Detail)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (l *Logger) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM security_audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

var ErrNotFound = errors.New("record not found")

const webhookConfigColumns = `id, platform, account_id, webhook_url, secret, subscribed_events, is_active, created_at, updated_at`

type WebhookConfigRepository struct {
	db *database.DB
}

func NewWebhookConfigRepository(db *database.DB) *WebhookConfigRepository {
	return &WebhookConfigRepository{db: db}
}

func (r *WebhookConfigRepository) Create(ctx context.Context, cfg *models.WebhookConfig) error {
	cfg.ID = "whc_" + uuid.New().String()
	cfg.CreatedAt = time.Now().Unix()
	cfg.UpdatedAt = cfg.CreatedAt
	if cfg.SubscribedEvents == nil {
		cfg.SubscribedEvents = []string{}
	}

	eventsJSON, err := json.Marshal(cfg.SubscribedEvents)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_configs (id, platform, account_id, webhook_url, secret, subscribed_events, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, cfg.ID, string(cfg.Platform), cfg.AccountID, cfg.WebhookURL, nullableString(cfg.Secret), string(eventsJSON), cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

func (r *WebhookConfigRepository) GetByID(ctx context.Context, id string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookConfigColumns+` FROM webhook_configs WHERE id = ?`, id)
	return scanWebhookConfig(row)
}

// GetByAccount resolves the config owning a platform account.
func (r *WebhookConfigRepository) GetByAccount(ctx context.Context, platform models.Platform, accountID string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookConfigColumns+` FROM webhook_configs WHERE platform = ? AND account_id = ?`, string(platform), accountID)
	return scanWebhookConfig(row)
}

func (r *WebhookConfigRepository) List(ctx context.Context) ([]*models.WebhookConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+webhookConfigColumns+` FROM webhook_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.WebhookConfig
	for rows.Next() {
		c, err := scanWebhookConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *WebhookConfigRepository) Update(ctx context.Context, cfg *models.WebhookConfig) error {
	eventsJSON, err := json.Marshal(cfg.SubscribedEvents)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhook_configs
		SET webhook_url = ?, secret = ?, subscribed_events = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query, cfg.WebhookURL, nullableString(cfg.Secret), string(eventsJSON), cfg.IsActive, cfg.UpdatedAt, cfg.ID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *WebhookConfigRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhookConfig(row rowScanner) (*models.WebhookConfig, error) {
	var c models.WebhookConfig
	var platform, eventsStr string
	var secret sql.NullString

	err := row.Scan(&c.ID, &platform, &c.AccountID, &c.WebhookURL, &secret, &eventsStr, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.Platform = models.Platform(platform)
	if secret.Valid {
		s := secret.String
		c.Secret = &s
	}
	if err := json.Unmarshal([]byte(eventsStr), &c.SubscribedEvents); err != nil {
		c.SubscribedEvents = []string{}
	}
	return &c, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

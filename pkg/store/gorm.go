package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// GormConfig selects the SQL backend.
type GormConfig struct {
	Driver   string          // "postgres" or "sqlite"
	DSN      string          // connection string or sqlite file path
	MaxConns int             // default 10 for postgres, 1 for sqlite
	LogLevel logger.LogLevel // logger.Silent in production
}

// GormStore implements Store over PostgreSQL or SQLite.
type GormStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewGormStore opens the database, runs migrations and verifies the connection.
func NewGormStore(cfg GormConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	maxConns := cfg.MaxConns
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
		if maxConns <= 0 {
			maxConns = 10
		}
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
		// A single connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		maxConns = 1
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	level := cfg.LogLevel
	if level == 0 {
		level = logger.Silent
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(level),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &GormStore{db: db, sqlDB: sqlDB}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ErrNotFound
	}
	return err
}

func (s *GormStore) FindConversationByPhone(ctx context.Context, phone string) (*types.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("phone_identifier = ?", phone).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toConversation(), nil
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toConversation(), nil
}

func (s *GormStore) SaveConversation(ctx context.Context, conv *types.Conversation) error {
	row := conversationToRow(conv)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *GormStore) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).Order("last_message_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toConversation())
	}
	return out, nil
}

func (s *GormStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	row := messageToRow(msg)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *GormStore) GetMessageByCorrelationID(ctx context.Context, correlationID string) (*types.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toMessage(), nil
}

func (s *GormStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = *r.toMessage()
	}
	return out, nil
}

func (s *GormStore) FindEntityByPhone(ctx context.Context, phone string) (*types.LinkedEntity, error) {
	var row vehicleRow
	if err := s.db.WithContext(ctx).Where("phone_identifier = ?", phone).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toEntity(), nil
}

func (s *GormStore) SaveEntity(ctx context.Context, entity *types.LinkedEntity) error {
	kind := entity.Kind
	if kind == "" {
		kind = "vehicle"
	}
	row := vehicleRow{
		Ref:             entity.Ref,
		Kind:            kind,
		PhoneIdentifier: entity.PhoneIdentifier,
		Label:           entity.Label,
		Contacted:       entity.Contacted,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ref"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *GormStore) MarkEntitiesContacted(ctx context.Context, refs []string) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&vehicleRow{}).
		Where("ref IN ? AND contacted = ?", refs, false).
		Updates(map[string]any{"contacted": true, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// Ping verifies the database connection is alive.
func (s *GormStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	return s.sqlDB.Close()
}

package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"tradesim/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Options selects and configures the database.
type Options struct {
	Driver string // "sqlite" (default) or "postgres"

	// sqlite
	Path string

	// postgres
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Storage persists accounts, balances, history and support messages.
type Storage struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(opt Options) (*Storage, error) {
	var dialector gorm.Dialector
	switch opt.Driver {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(opt.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		// Pure Go SQLite
		dialector = sqlite.Open(opt.Path)
	case "postgres":
		dialector = postgres.Open(opt.dsn())
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opt.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&AccountRecord{}, &BalanceRecord{}, &EventRecord{}, &MessageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Options) dsn() string {
	if opt.DSN != "" {
		return opt.DSN
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	return u.String()
}

// ======================================================================================
// Account Operations
// ======================================================================================

// SaveAccount upserts the account header and every balance in one transaction.
// History is written separately by AppendEvent.
func (s *Storage) SaveAccount(ctx context.Context, acc domain.Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := AccountRecord{
			ID:         acc.ID,
			Credential: acc.Credential,
			Suspended:  acc.Suspended,
			CreatedAt:  acc.CreatedAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, cur := range acc.Balances.Symbols() {
			bal := BalanceRecord{AccountID: acc.ID, Currency: cur, Amount: acc.Balances.Get(cur), UpdatedAt: now}
			if err := tx.Save(&bal).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendEvent writes one history entry. Writing the same event twice is a no-op.
func (s *Storage) AppendEvent(ctx context.Context, accountID string, ev domain.Event) error {
	rec := newEventRecord(accountID, ev)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// LoadAccounts reads every account with balances and history in append order.
func (s *Storage) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	db := s.db.WithContext(ctx)

	var recs []AccountRecord
	if err := db.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	var balances []BalanceRecord
	if err := db.Find(&balances).Error; err != nil {
		return nil, err
	}
	var events []EventRecord
	if err := db.Order("seq").Find(&events).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Account, len(recs))
	out := make([]domain.Account, len(recs))
	for i, r := range recs {
		out[i] = domain.Account{
			ID:         r.ID,
			Credential: r.Credential,
			Balances:   domain.NewBalances(),
			History:    []domain.Event{},
			Suspended:  r.Suspended,
			CreatedAt:  r.CreatedAt,
		}
		byID[r.ID] = &out[i]
	}
	for _, b := range balances {
		if acc, ok := byID[b.AccountID]; ok {
			acc.Balances.Set(b.Currency, b.Amount)
		}
	}
	for _, e := range events {
		if acc, ok := byID[e.AccountID]; ok {
			acc.History = append(acc.History, e.toDomain())
		}
	}
	return out, nil
}

// ======================================================================================
// Message Operations
// ======================================================================================

// SaveMessage appends one support message. Writing the same message twice is a no-op.
func (s *Storage) SaveMessage(ctx context.Context, m domain.Message) error {
	rec := MessageRecord{
		MessageID: m.ID,
		AccountID: m.AccountID,
		Sender:    m.From,
		Text:      m.Text,
		Time:      m.Time,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// LoadMessages returns every conversation keyed by account, oldest first.
func (s *Storage) LoadMessages(ctx context.Context) (map[string][]domain.Message, error) {
	var recs []MessageRecord
	if err := s.db.WithContext(ctx).Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make(map[string][]domain.Message)
	for _, r := range recs {
		out[r.AccountID] = append(out[r.AccountID], r.toDomain())
	}
	return out, nil
}

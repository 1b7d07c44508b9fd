package store

import (
	"context"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

// Open connects to mysql when a DSN is set, otherwise to a local sqlite file,
// and migrates the schema.
func Open(dsn, sqlitePath string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	if dsn != "" {
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	} else {
		db, err = gorm.Open(gormsqlite.Open(sqlitePath), &gorm.Config{})
	}
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Credential{}, &JobRecord{}, &RequestLog{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *gorm.DB { return s.db }

// LoadCredentials returns every non-disabled credential, resolving JWT expiry
// from the secret so the pool can skip expired accounts.
func (s *Store) LoadCredentials(ctx context.Context) ([]Credential, error) {
	var creds []Credential
	if err := s.db.WithContext(ctx).
		Where("status <> ?", CredDisabled).
		Order("id ASC").
		Find(&creds).Error; err != nil {
		return nil, err
	}
	for i := range creds {
		if creds[i].ExpiresAt == nil {
			if exp, ok := secretExpiry(creds[i].Secret); ok {
				creds[i].ExpiresAt = &exp
			}
		}
	}
	return creds, nil
}

// SaveCredentialState persists the mutable health fields of a credential.
func (s *Store) SaveCredentialState(ctx context.Context, c *Credential) error {
	return s.db.WithContext(ctx).Model(&Credential{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"status":         c.Status,
			"failures":       c.Failures,
			"cooldowns":      c.Cooldowns,
			"cooldown_until": c.CooldownUntil,
			"last_used_at":   c.LastUsedAt,
		}).Error
}

func (s *Store) CreateCredential(ctx context.Context, c *Credential) error {
	if exp, ok := secretExpiry(c.Secret); ok {
		c.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// RecordTerminalJob writes the final state of a job for audit/history.
func (s *Store) RecordTerminalJob(ctx context.Context, j *JobRecord) error {
	if j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
	return s.db.WithContext(ctx).Save(j).Error
}

func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var j JobRecord
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) InsertRequestLog(ctx context.Context, l *RequestLog) error {
	return s.db.WithContext(ctx).Create(l).Error
}

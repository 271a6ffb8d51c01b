package catalog

import (
	"context"
	"errors"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SQLStore is a gorm/sqlite-backed Store. It is the catalog implementation
// wired into the production binary; MemStore exists purely for tests.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (creating if necessary) a sqlite database at path and
// migrates the Connection schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Connection{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) GetBySubdomain(ctx context.Context, subdomain string) (Connection, error) {
	var c Connection
	err := s.db.WithContext(ctx).Where("subdomain = ?", subdomain).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Connection{}, ErrNotFound
	}
	return c, err
}

func (s *SQLStore) Get(ctx context.Context, id string) (Connection, error) {
	var c Connection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Connection{}, ErrNotFound
	}
	return c, err
}

func (s *SQLStore) Insert(ctx context.Context, c Connection) (Connection, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, err := s.GetBySubdomain(ctx, c.Subdomain); err == nil {
		return Connection{}, ErrDuplicateSubdomain
	} else if !errors.Is(err, ErrNotFound) {
		return Connection{}, err
	}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return Connection{}, err
	}
	return c, nil
}

func (s *SQLStore) Save(ctx context.Context, c Connection) error {
	res := s.db.WithContext(ctx).Model(&Connection{}).Where("id = ?", c.ID).Updates(map[string]any{
		"subdomain":     c.Subdomain,
		"upstream_port": c.UpstreamPort,
		"proxy_port":    c.ProxyPort,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Connection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]Connection, error) {
	var out []Connection
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

// Package storage 持久化会话状态文档。
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrNotFound 会话记录不存在
var ErrNotFound = errors.New("session not found")

// Session 会话表记录；State 是宿主的不透明 JSON 状态文档
type Session struct {
	ID        string `gorm:"primaryKey;size:64"`
	State     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store 基于 sqlite 的会话状态存储
type Store struct {
	db *gorm.DB
}

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Load 读取会话状态文档
func (s *Store) Load(ctx context.Context, id model.SessionID) ([]byte, error) {
	var rec Session
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return rec.State, nil
}

// Save 写入会话状态文档，不存在时创建
func (s *Store) Save(ctx context.Context, id model.SessionID, doc []byte) error {
	rec := Session{ID: string(id), State: doc}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// List 按更新时间倒序列出所有会话
func (s *Store) List(ctx context.Context) ([]Session, error) {
	var recs []Session
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return recs, nil
}

// Delete 删除会话记录
func (s *Store) Delete(ctx context.Context, id model.SessionID) error {
	res := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&Session{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

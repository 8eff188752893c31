package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrDuplicate は一意制約（email / username）違反です。
	ErrDuplicate = errors.New("user already exists")
	// ErrNotFound は更新対象のユーザーが存在しない場合に返ります。
	ErrNotFound = errors.New("user not found")
)

// Store は認証コアが必要とするユーザーストアの契約です。
// 取得系は該当なしの場合 (nil, nil) を返します。
type Store interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, params CreateParams) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Update(ctx context.Context, id string, params UpdateParams) (*User, error)
	List(ctx context.Context, offset, limit int) ([]User, error)
}

// Open は SQLite データベースを開き、スキーマを自動マイグレーションします。
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// sqlitePragmas は同時書き込み時に SQLITE_BUSY を即座に返さないための既定値です。
const sqlitePragmas = "_busy_timeout=5000&_journal_mode=WAL"

// withPragmas はクエリ文字列を持たない DSN に既定の PRAGMA を付与します。
// 呼び出し側が指定したパラメータはそのまま使います。
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + sqlitePragmas
}

// GormStore は gorm を使った Store 実装です。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore は GormStore を作成します。
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm store requires database handle")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *GormStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *GormStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.first(ctx, "id = ?", id)
}

// Create はユーザーを作成します。一意制約違反は ErrDuplicate を包んで返します。
func (s *GormStore) Create(ctx context.Context, params CreateParams) (*User, error) {
	if params.Username == "" || params.Email == "" {
		return nil, errors.New("username and email are required")
	}
	if params.HashedPassword == "" {
		return nil, errors.New("hashed password is required")
	}
	now := time.Now().UTC()
	user := &User{
		ID:             uuid.NewString(),
		Email:          params.Email,
		Username:       params.Username,
		FullName:       params.FullName,
		HashedPassword: params.HashedPassword,
		IsActive:       params.IsActive,
		IsSuperuser:    params.IsSuperuser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return nil, err
	}
	return user, nil
}

func (s *GormStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if hash == "" {
		return errors.New("hashed password is required")
	}
	res := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Updates(map[string]any{"hashed_password": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Update は指定されたフィールドのみ更新し、更新後のユーザーを返します。
func (s *GormStore) Update(ctx context.Context, id string, params UpdateParams) (*User, error) {
	cols := params.columns()
	if len(cols) > 0 {
		cols["updated_at"] = time.Now().UTC()
		res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return nil, fmt.Errorf("%w: %v", ErrDuplicate, res.Error)
			}
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *GormStore) List(ctx context.Context, offset, limit int) ([]User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	var list []User
	err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *GormStore) first(ctx context.Context, query string, args ...any) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

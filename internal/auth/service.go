package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

var (
	// ErrWrongCurrentPassword はパスワード変更時に現在のパスワードが一致しない場合です。
	ErrWrongCurrentPassword = &Error{Code: "WRONG_CURRENT_PASSWORD", Field: "current_password", Message: "Current password is incorrect"}
	// ErrPasswordMismatch は新しいパスワードと確認用入力が一致しない場合です。
	ErrPasswordMismatch = &Error{Code: "INVALID_INPUT", Field: "confirm_new_password", Message: "New passwords do not match"}
)

// Session はログイン成功時に発行されるトークンです。
type Session struct {
	Token     string
	ExpiresIn time.Duration
	User      *users.User
}

// RegisterParams は新規登録の入力です。
type RegisterParams struct {
	Email    string
	Username string
	Password string
	FullName string
}

// UpdateParams は管理者によるユーザー更新の入力です。Password は平文で受け取りハッシュ化します。
type UpdateParams struct {
	Email       *string
	Username    *string
	FullName    *string
	Password    *string
	IsActive    *bool
	IsSuperuser *bool
}

// Service はログイン・登録・パスワード変更を扱います。
type Service struct {
	store  users.Store
	hasher *Hasher
	codec  *TokenCodec
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService は Service を作成します。
func NewService(store users.Store, hasher *Hasher, codec *TokenCodec, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("user store is nil")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is nil")
	}
	if codec == nil {
		return nil, errors.New("token codec is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, hasher: hasher, codec: codec, logger: logger}, nil
}

// TokenTTL はトークンの既定有効期間です。Cookie の Max-Age にも使います。
func (s *Service) TokenTTL() time.Duration {
	return s.codec.TTL()
}

// Login はユーザー名とパスワードを検証してトークンを発行します。
// ユーザーが存在しない場合とパスワードが誤っている場合は同じ ErrInvalidCredentials を返し、
// 区別はログにのみ残します。
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		// 存在しないユーザーでも同じだけ時間をかける
		s.hasher.Verify(ctx, password, s.placeholderHash(ctx))
		s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "unknown_user")
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(ctx, password, user.HashedPassword) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "bad_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "inactive")
		return nil, ErrInactiveAccount
	}

	s.maybeRehash(ctx, user, password)

	session, err := s.Issue(user)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "username", username)
	return session, nil
}

// Issue は検証済みユーザーに対してトークンを発行します。
func (s *Service) Issue(user *users.User) (*Session, error) {
	if err := RequireActive(user); err != nil {
		return nil, err
	}
	token, err := s.codec.Issue(user.Username, 0)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresIn: s.codec.TTL(), User: user}, nil
}

// Register は一意性を確認したうえでユーザーを作成します。
// 公開登録では管理者権限を付与しません。返すユーザーはハッシュを含みません。
func (s *Service) Register(ctx context.Context, params RegisterParams) (*users.User, error) {
	existing, err := s.store.GetByEmail(ctx, params.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}
	existing, err = s.store.GetByUsername(ctx, params.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateUsername
	}

	hash, err := s.hasher.Hash(ctx, params.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Create(ctx, users.CreateParams{
		Email:          params.Email,
		Username:       params.Username,
		FullName:       params.FullName,
		HashedPassword: hash,
		IsActive:       true,
	})
	if err != nil {
		// 事前確認と作成の間に同じ値で登録された場合
		if errors.Is(err, users.ErrDuplicate) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	user.HashedPassword = ""
	return user, nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに置き換えます。
func (s *Service) ChangePassword(ctx context.Context, user *users.User, current, next, confirm string) error {
	if err := RequireActive(user); err != nil {
		return err
	}
	if !s.hasher.Verify(ctx, current, user.HashedPassword) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrWrongCurrentPassword
	}
	if next != confirm {
		return ErrPasswordMismatch
	}
	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update password: %w", err)
	}
	user.HashedPassword = hash
	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID)
	return nil
}

// UpdateUser は指定フィールドのみ更新します。
func (s *Service) UpdateUser(ctx context.Context, id string, params UpdateParams) (*users.User, error) {
	update := users.UpdateParams{
		Email:       params.Email,
		Username:    params.Username,
		FullName:    params.FullName,
		IsActive:    params.IsActive,
		IsSuperuser: params.IsSuperuser,
	}
	if params.Password != nil {
		hash, err := s.hasher.Hash(ctx, *params.Password)
		if err != nil {
			return nil, err
		}
		update.HashedPassword = &hash
	}
	user, err := s.store.Update(ctx, id, update)
	switch {
	case errors.Is(err, users.ErrNotFound):
		return nil, ErrUserNotFound
	case errors.Is(err, users.ErrDuplicate):
		return nil, ErrDuplicateIdentity
	case err != nil:
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// GetUser は ID でユーザーを取得します。
func (s *Service) GetUser(ctx context.Context, id string) (*users.User, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers はユーザー一覧を返します。
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]users.User, error) {
	list, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return list, nil
}

// maybeRehash はコスト設定が変わっていればハッシュを作り直します。失敗してもログインは継続します。
func (s *Service) maybeRehash(ctx context.Context, user *users.User, password string) {
	if !s.hasher.NeedsRehash(user.HashedPassword) {
		return
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.HashedPassword = hash
}

func (s *Service) placeholderHash(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return
		}
		hash, err := s.hasher.Hash(context.WithoutCancel(ctx), hex.EncodeToString(buf))
		if err != nil {
			s.logger.WarnContext(ctx, "failed to prepare placeholder hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// RootUsername は初期管理者のユーザー名です。
const RootUsername = "root"

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&*+-=?@^_"

// PasswordHasher はパスワードをハッシュ化する関数を提供します。
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
}

// RootResult は EnsureRoot の結果です。Password は新規作成時のみ設定されます。
type RootResult struct {
	Created  bool
	Username string
	Password string
}

// EnsureRoot は root ユーザーが存在しなければ作成します。
// password が空の場合はランダムなパスワードを生成して返します。
func EnsureRoot(ctx context.Context, store Store, hasher PasswordHasher, email, password string) (*RootResult, error) {
	if store == nil || hasher == nil {
		return nil, errors.New("store and hasher are required")
	}
	existing, err := store.GetByUsername(ctx, RootUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to look up root user: %w", err)
	}
	if existing != nil {
		return &RootResult{Username: RootUsername}, nil
	}

	generated := false
	if password == "" {
		password, err = GeneratePassword(16)
		if err != nil {
			return nil, err
		}
		generated = true
	}
	hash, err := hasher.Hash(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash root password: %w", err)
	}
	_, err = store.Create(ctx, CreateParams{
		Email:          email,
		Username:       RootUsername,
		FullName:       "Root Administrator",
		HashedPassword: hash,
		IsActive:       true,
		IsSuperuser:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create root user: %w", err)
	}

	result := &RootResult{Created: true, Username: RootUsername}
	if generated {
		result.Password = password
	}
	return result, nil
}

// GeneratePassword は crypto/rand で length 文字のパスワードを生成します。
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	size := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

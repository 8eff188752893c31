package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

// Resolver はリクエストの資格情報からユーザーを解決します。
// Bearer と Cookie は同じ検証処理 (Resolve) を共有します。
type Resolver struct {
	codec  *TokenCodec
	store  users.Store
	logger *slog.Logger
}

// NewResolver は Resolver を作成します。
func NewResolver(codec *TokenCodec, store users.Store, logger *slog.Logger) (*Resolver, error) {
	if codec == nil {
		return nil, errors.New("token codec is nil")
	}
	if store == nil {
		return nil, errors.New("user store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{codec: codec, store: store, logger: logger}, nil
}

// Resolve はトークンを検証し、subject のユーザーを取得します。
// 段階: トークン検証 → ユーザー取得 → 有効判定。どの段階で失敗してもそこで終了します。
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (*users.User, error) {
	subject, err := r.codec.Verify(cred.Token)
	if err != nil {
		r.reject(ctx, cred.Transport, "token", err)
		return nil, ErrTokenInvalid
	}

	user, err := r.store.GetByUsername(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token subject: %w", err)
	}
	if user == nil {
		r.reject(ctx, cred.Transport, "subject", errors.New("subject not found"))
		return nil, ErrTokenInvalid
	}
	if !user.IsActive {
		r.reject(ctx, cred.Transport, "inactive", errors.New("user is inactive"))
		return nil, ErrInactiveAccount
	}
	return user, nil
}

// ResolveBearer は Authorization ヘッダー値からユーザーを解決します。
// ヘッダーがない、または Bearer 形式でない場合は ErrUnauthenticated を返します。
func (r *Resolver) ResolveBearer(ctx context.Context, header string) (*users.User, error) {
	cred, ok := BearerCredential(header)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return r.Resolve(ctx, cred)
}

// ResolveSession は Cookie 値からユーザーを解決します。
// 失敗時は nil を返すだけで、リダイレクトか 401 かの判断は呼び出し側が行います。
func (r *Resolver) ResolveSession(ctx context.Context, cookie string) *users.User {
	cred, ok := CookieCredential(cookie)
	if !ok {
		return nil
	}
	user, err := r.Resolve(ctx, cred)
	if err != nil {
		var authErr *Error
		if !errors.As(err, &authErr) {
			r.logger.ErrorContext(ctx, "session resolution failed", "error", err)
		}
		return nil
	}
	return user
}

func (r *Resolver) reject(ctx context.Context, transport Transport, stage string, err error) {
	metrics.RecordTokenRejection(string(transport), stage)
	r.logger.DebugContext(ctx, "credential rejected", "transport", transport, "stage", stage, "error", err)
}

// RequireActive は解決済みユーザーが有効かどうかを判定します。
func RequireActive(user *users.User) error {
	if user == nil {
		return ErrUnauthenticated
	}
	if !user.IsActive {
		return ErrInactiveAccount
	}
	return nil
}

// RequireSuperuser は RequireActive に加えて管理者かどうかを判定します。
func RequireSuperuser(user *users.User) error {
	if err := RequireActive(user); err != nil {
		return err
	}
	if !user.IsSuperuser {
		return ErrForbidden
	}
	return nil
}

// Package users はユーザーアカウント（認証主体）の永続化を担います。
package users

import "time"

// User はユーザーアカウントです。パスワードハッシュは JSON に出力しません。
type User struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Email          string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username       string    `gorm:"uniqueIndex;size:50;not null" json:"username"`
	FullName       string    `gorm:"size:255" json:"full_name,omitempty"`
	HashedPassword string    `gorm:"not null" json:"-"`
	IsActive       bool      `gorm:"not null" json:"is_active"`
	IsSuperuser    bool      `gorm:"not null" json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateParams は新規作成時の入力です。HashedPassword はハッシュ済みの値を渡します。
type CreateParams struct {
	Email          string
	Username       string
	FullName       string
	HashedPassword string
	IsActive       bool
	IsSuperuser    bool
}

// UpdateParams は部分更新の入力です。nil のフィールドは変更しません。
type UpdateParams struct {
	Email          *string
	Username       *string
	FullName       *string
	HashedPassword *string
	IsActive       *bool
	IsSuperuser    *bool
}

func (p UpdateParams) columns() map[string]any {
	cols := make(map[string]any)
	if p.Email != nil {
		cols["email"] = *p.Email
	}
	if p.Username != nil {
		cols["username"] = *p.Username
	}
	if p.FullName != nil {
		cols["full_name"] = *p.FullName
	}
	if p.HashedPassword != nil {
		cols["hashed_password"] = *p.HashedPassword
	}
	if p.IsActive != nil {
		cols["is_active"] = *p.IsActive
	}
	if p.IsSuperuser != nil {
		cols["is_superuser"] = *p.IsSuperuser
	}
	return cols
}

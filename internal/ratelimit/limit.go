// Package ratelimit はエンドポイント単位・クライアント単位のリクエスト数制限を提供します。
//
// 状態はプロセス内に保持されます（memory バックエンド）。複数プロセスで共有する場合は
// redis バックエンドを使います。プロセス再起動で memory バックエンドのカウンタは消えます。
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limit はウィンドウあたりの許可リクエスト数です。Requests が 0 以下なら無制限です。
type Limit struct {
	Requests int
	Window   time.Duration
}

// Unlimited は制限なしかどうかを返します。
func (l Limit) Unlimited() bool {
	return l.Requests <= 0 || l.Window <= 0
}

var units = []struct {
	name string
	d    time.Duration
}{
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// String は "5 per 1 minute" の形式で制限を表します。
func (l Limit) String() string {
	if l.Unlimited() {
		return "unlimited"
	}
	for _, u := range units {
		if l.Window%u.d == 0 {
			return fmt.Sprintf("%d per %d %s", l.Requests, int64(l.Window/u.d), u.name)
		}
	}
	return fmt.Sprintf("%d per %s", l.Requests, l.Window)
}

// ParseLimit は "5/minute" や "10/30 seconds" 形式の文字列を解析します。
// 空文字列は無制限を表します。
func ParseLimit(expr string) (Limit, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Limit{}, nil
	}
	countPart, windowPart, ok := strings.Cut(expr, "/")
	if !ok {
		return Limit{}, fmt.Errorf("invalid rate limit %q: expected <count>/<window>", expr)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countPart))
	if err != nil || count <= 0 {
		return Limit{}, fmt.Errorf("invalid rate limit %q: count must be a positive integer", expr)
	}

	fields := strings.Fields(windowPart)
	multiple := 1
	var unitName string
	switch len(fields) {
	case 1:
		unitName = fields[0]
	case 2:
		multiple, err = strconv.Atoi(fields[0])
		if err != nil || multiple <= 0 {
			return Limit{}, fmt.Errorf("invalid rate limit %q: window multiple must be a positive integer", expr)
		}
		unitName = fields[1]
	default:
		return Limit{}, fmt.Errorf("invalid rate limit %q", expr)
	}

	unitName = strings.TrimSuffix(strings.ToLower(unitName), "s")
	for _, u := range units {
		if u.name == unitName {
			return Limit{Requests: count, Window: time.Duration(multiple) * u.d}, nil
		}
	}
	return Limit{}, fmt.Errorf("invalid rate limit %q: unknown unit %q", expr, unitName)
}

// MustParseLimit は ParseLimit の結果を返し、失敗時は panic します。
func MustParseLimit(expr string) Limit {
	l, err := ParseLimit(expr)
	if err != nil {
		panic(err)
	}
	return l
}

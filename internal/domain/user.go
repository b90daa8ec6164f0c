package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinUserNameLength = 2
	MaxUserNameLength = 30
)

// User — зарегистрированный покупатель. Баланс заводится вместе с ним.
type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// NormalizeUserName обрезает пробелы и проверяет длину имени в символах.
func NormalizeUserName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < MinUserNameLength || n > MaxUserNameLength {
		return "", ErrInvalidUserName
	}
	return name, nil
}

package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = gorm.ErrRecordNotFound

// IsDuplicateKey reports whether err is a unique constraint violation.
// Connections opened with TranslateError return gorm.ErrDuplicatedKey; the
// message check covers drivers that do not translate.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

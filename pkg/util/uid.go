package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateShortID 生成自定义的16位ID
func GenerateShortID() string {
	fullUUID := uuid.New().String()
	return strings.ReplaceAll(fullUUID, "-", "")[:16]
}

package utils

import (
	"github.com/google/uuid"
)

// GetUUID 生成uuid，生成失败时退化为随机uuid
func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return u1.String()
}

// GetShortID 取uuid的前8位，用于日志中区分会话
func GetShortID() string {
	return GetUUID()[:8]
}

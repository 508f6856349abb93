package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// 生成随机 ID
func GenerateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// FormatCurrency 金额渲染，固定两位小数
func FormatCurrency(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// FormatDate 按组织时区渲染日期；loc 为 nil 时退回 UTC
func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Jan 2, 2006")
}

// 时间格式化
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

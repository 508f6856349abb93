package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"fieldflow/pkg/utils"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// 金额类变量按两位小数渲染
var currencyVars = map[string]bool{
	"job_total":       true,
	"estimate_amount": true,
	"invoice_amount":  true,
	"amount_due":      true,
}

// RenderTemplate 对消息模板做变量替换。
// 变量形如 {{client_name}}；未知变量保持原样，便于运营方发现配置错误。
// 金额固定两位小数，日期按 loc 渲染（nil 为 UTC）。
func RenderTemplate(tpl string, vars map[string]interface{}, loc *time.Location) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := strings.TrimSpace(strings.Trim(match, "{}"))
		val, ok := vars[key]
		if !ok {
			return match
		}
		return formatTemplateValue(key, val, loc)
	})
}

func formatTemplateValue(key string, val interface{}, loc *time.Location) string {
	switch v := val.(type) {
	case float64:
		if currencyVars[key] {
			return utils.FormatCurrency(v)
		}
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case time.Time:
		return utils.FormatDate(v, loc)
	case *time.Time:
		if v == nil {
			return ""
		}
		return utils.FormatDate(*v, loc)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// HasPlaceholders reports whether s still contains {{...}} placeholders.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

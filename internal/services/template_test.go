package services

import (
	"testing"
	"time"
)

func TestRenderTemplate_BasicSubstitution(t *testing.T) {
	vars := map[string]interface{}{
		"client_name": "张伟",
		"job_title":   "空调维修",
	}
	out := RenderTemplate("您好 {{client_name}}，您的 {{job_title}} 已排期。", vars, nil)
	want := "您好 张伟，您的 空调维修 已排期。"
	if out != want {
		t.Errorf("RenderTemplate() = %q, want %q", out, want)
	}
}

func TestRenderTemplate_UnknownVariableKept(t *testing.T) {
	vars := map[string]interface{}{"client_name": "李娜"}
	out := RenderTemplate("Hi {{client_name}}, ref {{unknown_var}}", vars, nil)
	if out != "Hi 李娜, ref {{unknown_var}}" {
		t.Errorf("unknown variable should stay as-is, got %q", out)
	}
}

func TestRenderTemplate_CurrencyTwoDecimals(t *testing.T) {
	vars := map[string]interface{}{
		"invoice_amount": 1280.5,
		"job_total":      99.0,
	}
	out := RenderTemplate("Amount {{invoice_amount}}, total {{job_total}}", vars, nil)
	if out != "Amount 1280.50, total 99.00" {
		t.Errorf("currency vars should render with two decimals, got %q", out)
	}
}

func TestRenderTemplate_DateUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// UTC 2025-03-02 01:00 = 2025-03-01 20:00 in New York
	due := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	vars := map[string]interface{}{"invoice_due_date": due}

	got := RenderTemplate("Due {{invoice_due_date}}", vars, loc)
	if got != "Due Mar 1, 2025" {
		t.Errorf("date should render in org timezone, got %q", got)
	}
	gotUTC := RenderTemplate("Due {{invoice_due_date}}", vars, nil)
	if gotUTC != "Due Mar 2, 2025" {
		t.Errorf("nil location should fall back to UTC, got %q", gotUTC)
	}
}

func TestRenderTemplate_NilAndPointerValues(t *testing.T) {
	var due *time.Time
	vars := map[string]interface{}{
		"invoice_due_date": due,
		"note":             nil,
	}
	out := RenderTemplate("{{invoice_due_date}}|{{note}}", vars, nil)
	if out != "|" {
		t.Errorf("nil values should render empty, got %q", out)
	}
}

func TestRenderTemplate_WhitespaceInsidePlaceholder(t *testing.T) {
	vars := map[string]interface{}{"client_name": "王强"}
	out := RenderTemplate("Hi {{ client_name }}", vars, nil)
	if out != "Hi 王强" {
		t.Errorf("placeholder with spaces should resolve, got %q", out)
	}
}

func TestHasPlaceholders(t *testing.T) {
	if !HasPlaceholders("Hi {{client_name}}") {
		t.Error("expected placeholders to be detected")
	}
	if HasPlaceholders("plain text") {
		t.Error("plain text should not report placeholders")
	}
}

// Package format содержит помощники форматирования ответов (HTML-разметка Telegram).
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Escape экранирует текст для HTML-разметки
func Escape(s string) string {
	return html.EscapeString(s)
}

// Code оборачивает текст в <code>
func Code(s string) string {
	return "<code>" + html.EscapeString(s) + "</code>"
}

// Bold оборачивает текст в <b>
func Bold(s string) string {
	return "<b>" + html.EscapeString(s) + "</b>"
}

// Truncate обрезает строку до n символов, добавляя многоточие
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// Duration форматирует длительность как "1д 2ч 3м 4с"
func Duration(d time.Duration) string {
	if d < time.Second {
		return "0с"
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dд", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dч", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dм", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%dс", seconds))
	}
	return strings.Join(parts, " ")
}

// Title делает первую букву каждого слова заглавной
func Title(s string) string {
	return cases.Title(language.Und).String(s)
}

// Error форматирует короткое сообщение об ошибке команды
func Error(command, message string) string {
	return fmt.Sprintf("❌ %s: %s", Code(command), Escape(Truncate(message, 300)))
}

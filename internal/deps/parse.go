// Package deps разбирает объявленные зависимости модулей и устанавливает
// недостающие пакеты через luarocks.
package deps

import (
	"regexp"
	"strings"
)

var (
	directiveRe = regexp.MustCompile(`(?i)^(?:--|#|//)\s*(?:requires?|deps|dependencies)\s*:(.*)$`)
	listRe      = regexp.MustCompile(`__(?:requires|dependencies|deps)__\s*=\s*[\[{]([^\]}]*)[\]}]`)
	quotedRe    = regexp.MustCompile(`["']([^"']+)["']`)
	versionRe   = regexp.MustCompile(`[\s<>=!~]`)
)

// ParseRequirements извлекает имена пакетов из исходного текста модуля.
// Комментарии-директивы читаются раньше списков; дубликаты без учета регистра
// отбрасываются, побеждает первое вхождение.
func ParseRequirements(source string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	add := func(pkg string) {
		pkg = strings.TrimSpace(strings.Trim(strings.TrimSpace(pkg), `"'`))
		if pkg == "" {
			return
		}
		key := strings.ToLower(pkg)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, pkg)
	}

	for _, line := range strings.Split(source, "\n") {
		m := directiveRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		for _, pkg := range strings.Split(m[1], ",") {
			add(pkg)
		}
	}

	for _, m := range listRe.FindAllStringSubmatch(source, -1) {
		for _, item := range quotedRe.FindAllStringSubmatch(m[1], -1) {
			add(item[1])
		}
	}

	return out
}

// BaseName отрезает от требования квалификатор версии: "lpeg >= 1.0" -> "lpeg"
func BaseName(requirement string) string {
	requirement = strings.TrimSpace(requirement)
	if loc := versionRe.FindStringIndex(requirement); loc != nil {
		return strings.TrimSpace(requirement[:loc[0]])
	}
	return requirement
}

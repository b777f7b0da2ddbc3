package deps

import "strings"

// moduleAliases сопоставляет имя rock с именем, под которым его загружает require
var moduleAliases = map[string]string{
	"luafilesystem":   "lfs",
	"luasocket":       "socket",
	"luasec":          "ssl",
	"lua-cjson":       "cjson",
	"lua-cjson2":      "cjson",
	"penlight":        "pl",
	"lua-zlib":        "zlib",
	"lrexlib-pcre":    "rex_pcre",
	"lrexlib-pcre2":   "rex_pcre2",
	"lbase64":         "base64",
	"luaossl":         "openssl",
	"luautf8":         "lua-utf8",
	"lua-term":        "term",
	"lua-path":        "path",
	"lyaml":           "yaml",
	"net-url":         "net.url",
	"lua-requests":    "requests",
	"lua-resty-http":  "resty.http",
	"http":            "http.request",
	"lua-messagepack": "MessagePack",
	"lua-protobuf":    "pb",
	"lustache":        "lustache",
	"xml2lua":         "xml2lua",
	"luatz":           "luatz",
}

// ModuleName возвращает имя для require по имени rock
func ModuleName(requirement string) string {
	base := BaseName(requirement)
	if mapped, ok := moduleAliases[strings.ToLower(base)]; ok {
		return mapped
	}
	return strings.ReplaceAll(base, "-", "_")
}

package settings

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Источники установки модуля
const (
	SourceFile = "file"
	SourceURL  = "url"
)

// Document представляет весь персистентный документ настроек
type Document struct {
	Prefix           string                  `json:"prefix" yaml:"prefix"`
	BotToken         string                  `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	OwnerID          int64                   `json:"owner_id" yaml:"owner_id"`
	DisabledModules  []string                `json:"disabled_modules" yaml:"disabled_modules"`
	CustomSettings   map[string]any          `json:"custom_settings" yaml:"custom_settings"`
	InstalledModules map[string]Installation `json:"installed_modules" yaml:"installed_modules"`
	AliveMessage     string                  `json:"alive_message" yaml:"alive_message"`
	InfoCard         InfoCard                `json:"kinfo" yaml:"kinfo"`
	Stats            Stats                   `json:"stats" yaml:"stats"`
}

// Installation хранит происхождение установленного пользователем модуля
type Installation struct {
	Filename     string    `json:"filename" yaml:"filename"`
	InstalledAt  time.Time `json:"installed_at" yaml:"installed_at"`
	Source       string    `json:"source" yaml:"source"`
	URL          string    `json:"url,omitempty" yaml:"url,omitempty"`
	Requirements []string  `json:"requirements" yaml:"requirements"`
}

// Stats хранит счетчики использования
type Stats struct {
	CommandsUsed int64     `json:"commands_used" yaml:"commands_used"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
}

// DefaultDocument возвращает документ со значениями по умолчанию
func DefaultDocument(prefix string) *Document {
	if prefix == "" {
		prefix = "."
	}
	return &Document{
		Prefix:           prefix,
		DisabledModules:  []string{},
		CustomSettings:   map[string]any{},
		InstalledModules: map[string]Installation{},
		AliveMessage:     DefaultAliveMessage,
		InfoCard:         DefaultInfoCard(),
	}
}

// normalize заполняет nil-поля после чтения старого или частичного документа
func (d *Document) normalize(prefix string) {
	if d.Prefix == "" {
		d.Prefix = prefix
	}
	if d.DisabledModules == nil {
		d.DisabledModules = []string{}
	}
	if d.CustomSettings == nil {
		d.CustomSettings = map[string]any{}
	}
	if d.InstalledModules == nil {
		d.InstalledModules = map[string]Installation{}
	}
	if strings.TrimSpace(d.AliveMessage) == "" {
		d.AliveMessage = DefaultAliveMessage
	}
	d.InfoCard.normalize()
}

// clone возвращает глубокую копию документа
func (d *Document) clone() Document {
	out := *d
	out.DisabledModules = append([]string(nil), d.DisabledModules...)
	out.InfoCard = d.InfoCard.clone()
	out.CustomSettings = make(map[string]any, len(d.CustomSettings))
	for k, v := range d.CustomSettings {
		out.CustomSettings[k] = v
	}
	out.InstalledModules = make(map[string]Installation, len(d.InstalledModules))
	for k, v := range d.InstalledModules {
		v.Requirements = append([]string(nil), v.Requirements...)
		out.InstalledModules[k] = v
	}
	return out
}

// Codec сериализует документ целиком
type Codec interface {
	Name() string
	Marshal(doc *Document) ([]byte, error)
	Unmarshal(data []byte, doc *Document) error
}

// JSONCodec хранит документ в JSON
type JSONCodec struct{}

// Name возвращает имя формата
func (JSONCodec) Name() string { return "json" }

// Marshal сериализует документ
func (JSONCodec) Marshal(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal разбирает документ
func (JSONCodec) Unmarshal(data []byte, doc *Document) error {
	return json.Unmarshal(data, doc)
}

// YAMLCodec хранит документ в YAML
type YAMLCodec struct{}

// Name возвращает имя формата
func (YAMLCodec) Name() string { return "yaml" }

// Marshal сериализует документ
func (YAMLCodec) Marshal(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// Unmarshal разбирает документ
func (YAMLCodec) Unmarshal(data []byte, doc *Document) error {
	return yaml.Unmarshal(data, doc)
}

// CodecForPath выбирает формат по расширению файла
func CodecForPath(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return JSONCodec{}, nil
	case ".yaml", ".yml":
		return YAMLCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
}

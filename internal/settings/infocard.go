package settings

import (
	"fmt"
	"strings"
)

// Оформление по умолчанию. Подстановки вида {name} заполняет модуль core.
const (
	DefaultInfoEmoji = "🤖"

	DefaultInfoTemplate = "{emoji} <b>{brand}</b> v{version}\n" +
		"━━━━━━━━━━━━━━━━━━━━━\n" +
		"├ 👤 Владелец: {owner}\n" +
		"├ 🏓 Пинг: {ping}ms\n" +
		"├ ⏱ Аптайм: {uptime}\n" +
		"├ 📦 Модулей: {modules} (🔵{builtin} 🟢{user_mods})\n" +
		"├ 🔧 Команд: {commands}\n" +
		"├ 🔑 Префикс: {prefix}\n" +
		"├ 🐹 Go: {go}\n" +
		"{custom_lines}\n" +
		"└ 💻 {os}"

	DefaultAliveMessage = "{emoji} <b>{brand}</b> работает!\n" +
		"├ ⏱ {uptime}\n" +
		"├ 📦 Модулей: {modules}\n" +
		"└ 🔧 Команд: {commands}"

	maxInfoEmoji = 5
)

// InfoCard настройки карточки kinfo
type InfoCard struct {
	Template     string   `json:"template" yaml:"template"`
	Emoji        string   `json:"emoji" yaml:"emoji"`
	ShowPing     bool     `json:"show_ping" yaml:"show_ping"`
	ShowUptime   bool     `json:"show_uptime" yaml:"show_uptime"`
	ShowModules  bool     `json:"show_modules" yaml:"show_modules"`
	ShowCommands bool     `json:"show_commands" yaml:"show_commands"`
	ShowPrefix   bool     `json:"show_prefix" yaml:"show_prefix"`
	ShowRuntime  bool     `json:"show_runtime" yaml:"show_runtime"`
	ShowOS       bool     `json:"show_os" yaml:"show_os"`
	ShowOwner    bool     `json:"show_owner" yaml:"show_owner"`
	CustomLines  []string `json:"custom_lines" yaml:"custom_lines"`
}

// InfoField переключаемая строка карточки
type InfoField struct {
	Name  string
	Label string
	// Placeholders строки шаблона с этими подстановками скрываются вместе с полем
	Placeholders []string
}

// InfoFields поля карточки в порядке показа
var InfoFields = []InfoField{
	{Name: "ping", Label: "🏓 Пинг", Placeholders: []string{"{ping}"}},
	{Name: "uptime", Label: "⏱ Аптайм", Placeholders: []string{"{uptime}"}},
	{Name: "modules", Label: "📦 Модули", Placeholders: []string{"{modules}", "{builtin}", "{user_mods}"}},
	{Name: "commands", Label: "🔧 Команды", Placeholders: []string{"{commands}"}},
	{Name: "prefix", Label: "🔑 Префикс", Placeholders: []string{"{prefix}"}},
	{Name: "runtime", Label: "🐹 Go", Placeholders: []string{"{go}"}},
	{Name: "os", Label: "💻 ОС", Placeholders: []string{"{os}"}},
	{Name: "owner", Label: "👤 Владелец", Placeholders: []string{"{owner}"}},
}

// DefaultInfoCard возвращает карточку по умолчанию: все поля видимы
func DefaultInfoCard() InfoCard {
	return InfoCard{
		Template:     DefaultInfoTemplate,
		Emoji:        DefaultInfoEmoji,
		ShowPing:     true,
		ShowUptime:   true,
		ShowModules:  true,
		ShowCommands: true,
		ShowPrefix:   true,
		ShowRuntime:  true,
		ShowOS:       true,
		ShowOwner:    true,
		CustomLines:  []string{},
	}
}

// toggle возвращает флаг видимости поля
func (c *InfoCard) toggle(field string) (*bool, bool) {
	switch field {
	case "ping":
		return &c.ShowPing, true
	case "uptime":
		return &c.ShowUptime, true
	case "modules":
		return &c.ShowModules, true
	case "commands":
		return &c.ShowCommands, true
	case "prefix":
		return &c.ShowPrefix, true
	case "runtime":
		return &c.ShowRuntime, true
	case "os":
		return &c.ShowOS, true
	case "owner":
		return &c.ShowOwner, true
	default:
		return nil, false
	}
}

// Shown сообщает, видимо ли поле. Неизвестные поля считаются видимыми.
func (c InfoCard) Shown(field string) bool {
	flag, ok := c.toggle(field)
	return !ok || *flag
}

func (c *InfoCard) normalize() {
	if strings.TrimSpace(c.Template) == "" {
		c.Template = DefaultInfoTemplate
	}
	if c.Emoji == "" {
		c.Emoji = DefaultInfoEmoji
	}
	if c.CustomLines == nil {
		c.CustomLines = []string{}
	}
}

func (c InfoCard) clone() InfoCard {
	c.CustomLines = append([]string{}, c.CustomLines...)
	return c
}

// InfoCard возвращает копию настроек карточки
func (s *Store) InfoCard() InfoCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.InfoCard.clone()
}

// SetInfoEmoji меняет эмодзи карточки; длиннее пяти символов обрезается
func (s *Store) SetInfoEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", fmt.Errorf("emoji must not be empty")
	}
	if r := []rune(emoji); len(r) > maxInfoEmoji {
		emoji = string(r[:maxInfoEmoji])
	}
	return emoji, s.mutate("set_info_emoji", func(doc *Document) {
		doc.InfoCard.Emoji = emoji
	})
}

// SetInfoTemplate меняет шаблон карточки
func (s *Store) SetInfoTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template must not be empty")
	}
	return s.mutate("set_info_template", func(doc *Document) {
		doc.InfoCard.Template = template
	})
}

// SetInfoField показывает или скрывает поле карточки
func (s *Store) SetInfoField(field string, shown bool) error {
	card := DefaultInfoCard()
	if _, ok := card.toggle(field); !ok {
		return fmt.Errorf("unknown info field %q", field)
	}
	return s.mutate("set_info_field", func(doc *Document) {
		flag, _ := doc.InfoCard.toggle(field)
		*flag = shown
	})
}

// AddInfoLine добавляет свою строку в карточку и возвращает их число
func (s *Store) AddInfoLine(line string) (int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("line must not be empty")
	}
	var count int
	err := s.mutate("add_info_line", func(doc *Document) {
		doc.InfoCard.CustomLines = append(doc.InfoCard.CustomLines, line)
		count = len(doc.InfoCard.CustomLines)
	})
	return count, err
}

// ClearInfoLines удаляет свои строки карточки
func (s *Store) ClearInfoLines() error {
	return s.mutate("clear_info_lines", func(doc *Document) {
		doc.InfoCard.CustomLines = []string{}
	})
}

// ResetInfoCard возвращает карточку к значениям по умолчанию
func (s *Store) ResetInfoCard() error {
	return s.mutate("reset_info_card", func(doc *Document) {
		doc.InfoCard = DefaultInfoCard()
	})
}

// AliveMessage возвращает шаблон ответа alive
func (s *Store) AliveMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.AliveMessage
}

// SetAliveMessage меняет шаблон ответа alive; пустой текст возвращает шаблон по умолчанию
func (s *Store) SetAliveMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		text = DefaultAliveMessage
	}
	return s.mutate("set_alive_message", func(doc *Document) {
		doc.AliveMessage = text
	})
}

// SetBotToken сохраняет токен бота; пустая строка удаляет его
func (s *Store) SetBotToken(token string) error {
	token = strings.TrimSpace(token)
	return s.mutate("set_bot_token", func(doc *Document) {
		doc.BotToken = token
	})
}

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInfoCard_Defaults(t *testing.T) {
	store, _ := openTempStore(t, "kub_config.json")

	card := store.InfoCard()
	assert.Equal(t, DefaultInfoTemplate, card.Template)
	assert.Equal(t, DefaultInfoEmoji, card.Emoji)
	for _, field := range InfoFields {
		assert.True(t, card.Shown(field.Name), field.Name)
	}
	assert.Empty(t, card.CustomLines)
	assert.Equal(t, DefaultAliveMessage, store.AliveMessage())
}

func TestInfoCard_ChangesAreDurable(t *testing.T) {
	store, path := openTempStore(t, "kub_config.yaml")

	emoji, err := store.SetInfoEmoji("🚀🚀🚀🚀🚀🚀🚀")
	require.NoError(t, err)
	assert.Equal(t, "🚀🚀🚀🚀🚀", emoji)
	require.NoError(t, store.SetInfoField("os", false))
	assert.Error(t, store.SetInfoField("weather", false))
	count, err := store.AddInfoLine("  first  ")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = store.AddInfoLine(" ")
	assert.Error(t, err)
	require.NoError(t, store.SetAliveMessage("up {uptime}"))
	require.NoError(t, store.SetBotToken(" 1:abc "))

	reopened, err := OpenFile(context.Background(), path, ".", zap.NewNop())
	require.NoError(t, err)
	card := reopened.InfoCard()
	assert.Equal(t, "🚀🚀🚀🚀🚀", card.Emoji)
	assert.False(t, card.Shown("os"))
	assert.True(t, card.Shown("ping"))
	assert.Equal(t, []string{"first"}, card.CustomLines)
	assert.Equal(t, "up {uptime}", reopened.AliveMessage())
	assert.Equal(t, "1:abc", reopened.BotToken())

	require.NoError(t, reopened.ClearInfoLines())
	assert.Empty(t, reopened.InfoCard().CustomLines)
	require.NoError(t, reopened.ResetInfoCard())
	assert.True(t, reopened.InfoCard().Shown("os"))
	require.NoError(t, reopened.SetAliveMessage(""))
	assert.Equal(t, DefaultAliveMessage, reopened.AliveMessage())
}

func TestInfoCard_PartialDocumentKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kub_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prefix":"!","kinfo":{"emoji":"⭐","show_ping":false}}`), 0o600))

	store, err := OpenFile(context.Background(), path, ".", zap.NewNop())
	require.NoError(t, err)

	card := store.InfoCard()
	assert.Equal(t, "⭐", card.Emoji)
	assert.False(t, card.ShowPing)
	assert.True(t, card.ShowUptime)
	assert.Equal(t, DefaultInfoTemplate, card.Template)
	assert.Equal(t, DefaultAliveMessage, store.AliveMessage())
}

func TestInfoCard_CopyIsIsolated(t *testing.T) {
	store, _ := openTempStore(t, "kub_config.json")
	_, err := store.AddInfoLine("kept")
	require.NoError(t, err)

	card := store.InfoCard()
	card.CustomLines[0] = "changed"
	assert.Equal(t, []string{"kept"}, store.InfoCard().CustomLines)
}

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMetrics_Commands(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	m.RecordCommand("ping", "core", 1)
	m.RecordCommand("ping", "core", 1)
	m.RecordCommand("weather", "weather", 2)

	activity := m.GetStats()["user_activity"].(map[string]interface{})
	assert.Equal(t, int64(3), activity["total_commands"])
	assert.Equal(t, 2, activity["unique_users"])
	assert.Equal(t, map[string]int64{"core": 2, "weather": 1}, activity["by_module"])
}

func TestMetrics_ErrorRate(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	m.RecordResponseTime(10 * time.Millisecond)
	m.RecordResponseTime(30 * time.Millisecond)
	m.RecordError()
	m.RecordRateLimited()

	perf := m.GetStats()["performance"].(map[string]interface{})
	assert.Equal(t, int64(2), perf["total_requests"])
	assert.Equal(t, 50.0, perf["error_rate"])
	assert.Equal(t, int64(1), perf["rate_limited"])
	assert.Equal(t, "0.02s", perf["avg_response_time"])
}

func TestMetrics_Modules(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	modules := m.GetStats()["modules"].(map[string]interface{})
	assert.Equal(t, "Не установлено", modules["last_reload"])

	m.RecordModuleLoad(true)
	m.RecordModuleLoad(false)
	m.RecordInstall(true)
	m.RecordInstall(false)
	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	m.SetLastReload(at)

	modules = m.GetStats()["modules"].(map[string]interface{})
	assert.Equal(t, int64(1), modules["loaded"])
	assert.Equal(t, int64(1), modules["load_failures"])
	assert.Equal(t, int64(2), modules["installs"])
	assert.Equal(t, int64(1), modules["install_errors"])
	assert.Equal(t, "01.03.25 12:30", modules["last_reload"])
}

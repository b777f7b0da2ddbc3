package registry

import (
	"testing"

	"kubot/internal/module"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func descriptor(name string, commands ...string) *module.Descriptor {
	d := &module.Descriptor{Name: name}
	for _, c := range commands {
		d.AddCommand(&module.Command{Name: c})
	}
	return d
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(descriptor("core", "ping", "Help"))

	cmd, ok := r.Lookup("PING")
	require.True(t, ok)
	assert.Equal(t, "core", cmd.Module)

	_, ok = r.Lookup("help")
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_LastWriteWinsAndWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(zap.New(core))

	r.Register(descriptor("first", "ping", "only"))
	r.Register(descriptor("second", "ping"))

	cmd, ok := r.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "second", cmd.Module)
	assert.Equal(t, 1, logs.FilterMessage("Command overridden by another module").Len())

	// выгрузка нового владельца удаляет имя целиком
	assert.Equal(t, 1, r.RemoveModule("second"))
	_, ok = r.Lookup("ping")
	assert.False(t, ok)

	// выгрузка старого владельца не трогает чужие команды
	assert.Equal(t, 1, r.RemoveModule("first"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveModuleKeepsOverriddenCommands(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(descriptor("a", "x", "y"))
	r.Register(descriptor("b", "x"))

	assert.Equal(t, 1, r.RemoveModule("a"))
	cmd, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "b", cmd.Module)
}

func TestRegistry_CommandsAndByModule(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(descriptor("a", "zeta", "alpha"))
	r.Register(descriptor("b", "mid"))

	var names []string
	for _, c := range r.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	assert.Len(t, r.ByModule()["a"], 2)
	assert.Equal(t, map[string]string{"alpha": "a", "mid": "b", "zeta": "a"}, r.Snapshot())
}

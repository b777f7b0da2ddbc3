package luahost

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kubot/internal/deps"
	"kubot/internal/jobs"
	"kubot/internal/module"
	"kubot/internal/registry"
	"kubot/internal/settings"
	"kubot/internal/transport/memory"
	"kubot/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	transport *memory.Transport
	store     *settings.Store
	registry  *registry.Registry
	scheduler *jobs.Scheduler
	attached  []*module.Command
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := settings.OpenFile(context.Background(), filepath.Join(t.TempDir(), "cfg.json"), ".", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		transport: memory.New(),
		store:     store,
		registry:  registry.New(zap.NewNop()),
		scheduler: jobs.NewScheduler(worker.Inline{}, zap.NewNop()),
	}
}

func (f *fixture) host(name string, report deps.Report) *Host {
	return New(Env{
		Name:      name,
		File:      name + ".lua",
		Transport: f.transport,
		Config:    f.store,
		Commands:  f.registry,
		Jobs:      f.scheduler,
		Loop:      worker.Inline{},
		Report:    report,
		Attach:    func(cmd *module.Command) { f.attached = append(f.attached, cmd) },
		Logger:    zap.NewNop(),
	})
}

const echoModule = `
function setup(ctx)
  ctx.module{
    description = "echo things",
    author = "tester",
    version = "1.2",
    settings = {
      { key = "times", label = "Повторы", type = "int", default = 2 },
      { key = "loud", type = "bool", default = false },
    },
  }
  ctx.command{
    name = "Echo",
    description = "repeat text",
    usage = "<text>",
    handler = function(ev)
      local parts = {}
      for i = 1, ctx.config.get("times", 1) do
        parts[i] = ev.args
      end
      ev.respond(table.concat(parts, " "))
    end,
  }
end
`

func TestSetup_CollectsMetadataAndCommands(t *testing.T) {
	f := newFixture(t)
	h := f.host("echo", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), echoModule)
	require.NoError(t, err)

	assert.Equal(t, "echo", desc.Name)
	assert.Equal(t, "echo things", desc.Description)
	assert.Equal(t, "tester", desc.Author)
	assert.Equal(t, "1.2", desc.Version)
	require.Len(t, desc.Settings, 2)
	assert.Equal(t, settings.TypeInt, desc.Settings[0].Type)
	assert.Equal(t, "Повторы", desc.Settings[0].Label)
	assert.Equal(t, "loud", desc.Settings[1].Label)

	cmd, ok := desc.Command("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", cmd.Module)
	assert.Equal(t, "echo", cmd.Category)
	assert.Equal(t, "<text>", cmd.Usage)
}

func TestCommandHandler_UsesSettingsAndResponds(t *testing.T) {
	f := newFixture(t)
	h := f.host("echo", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), echoModule)
	require.NoError(t, err)
	f.store.RegisterSchema("echo", desc.Settings)

	cmd, _ := desc.Command("echo")
	ev := &module.Event{ChatID: 7, SenderID: 1, MessageID: 100, Args: "hi"}
	require.NoError(t, cmd.Handler(context.Background(), ev))
	assert.Equal(t, []string{"hi hi"}, f.transport.Sent(7))

	require.NoError(t, f.store.Set("echo", "times", 3))
	require.NoError(t, cmd.Handler(context.Background(), ev))
	assert.Equal(t, []string{"hi hi", "hi hi hi"}, f.transport.Sent(7))
}

func TestSetup_ReturnedMetaTable(t *testing.T) {
	f := newFixture(t)
	h := f.host("meta", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  return { name = "other", description = "from return", version = 3 }
end`)
	require.NoError(t, err)
	assert.Equal(t, "meta", desc.Name)
	assert.Equal(t, "from return", desc.Description)
	assert.Equal(t, "3", desc.Version)
}

func TestSetup_Failures(t *testing.T) {
	tests := []struct {
		name   string
		source string
		stage  string
	}{
		{"syntax error", `function setup(ctx`, module.StageParse},
		{"top level error", `error("boom")`, module.StageParse},
		{"no setup", `local x = 1`, module.StageValidate},
		{"setup raises", `function setup(ctx) error("bad") end`, module.StageSetup},
		{"bad setting type", `function setup(ctx) ctx.module{ settings = {{ key = "k", type = "date" }} } end`, module.StageSetup},
		{"bad command name", `function setup(ctx) ctx.command{ name = "a b", handler = function() end } end`, module.StageSetup},
		{"missing handler", `function setup(ctx) ctx.command{ name = "x" } end`, module.StageSetup},
		{"bad pattern", `function setup(ctx) ctx.on({ pattern = "(" }, function() end) end`, module.StageSetup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := f.host("broken", deps.Report{})
			defer h.Close()

			_, err := h.Setup(context.Background(), tt.source)
			require.Error(t, err)

			var loadErr *module.LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, tt.stage, loadErr.Stage)
			assert.Equal(t, "broken.lua", loadErr.File)
		})
	}
}

func TestSetup_NoSetupIsSentinel(t *testing.T) {
	f := newFixture(t)
	h := f.host("empty", deps.Report{})
	defer h.Close()

	_, err := h.Setup(context.Background(), `return 1`)
	assert.ErrorIs(t, err, module.ErrNoSetup)
}

func TestSandbox_UnsafeGlobalsRemoved(t *testing.T) {
	f := newFixture(t)
	h := f.host("sandbox", deps.Report{})
	defer h.Close()

	_, err := h.Setup(context.Background(), `
function setup(ctx)
  assert(dofile == nil, "dofile")
  assert(loadfile == nil, "loadfile")
  assert(load == nil, "load")
  assert(loadstring == nil, "loadstring")
  assert(io == nil, "io")
  assert(os == nil, "os")
  assert(package.loadlib == nil, "loadlib")
  assert(package.cpath == "", "cpath")
  assert(string.upper("a") == "A")
end`)
	require.NoError(t, err)
}

func TestSetup_DepsTable(t *testing.T) {
	f := newFixture(t)
	h := f.host("deps", deps.Report{
		All:            []string{"lpeg", "missing"},
		AlreadyPresent: []string{"lpeg"},
		Failed:         []deps.Failure{{Name: "missing", Error: "missing: not found"}},
	})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  assert(#ctx.deps.all == 2)
  assert(ctx.deps.present[1] == "lpeg")
  assert(#ctx.deps.installed == 0)
  assert(ctx.deps.failed[1].name == "missing")
  ctx.command{ name = "ok", handler = function() end }
end`)
	require.NoError(t, err)
	assert.Equal(t, []string{"lpeg", "missing"}, desc.Requirements)
}

func TestOn_SubscribesAndDeliversEvents(t *testing.T) {
	f := newFixture(t)
	h := f.host("watch", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  ctx.on({ pattern = "^hello", incoming = true }, function(ev)
    ctx.client.send(ev.chat_id, "seen " .. ev.text)
  end)
end`)
	require.NoError(t, err)
	require.Len(t, desc.Handles(), 1)
	assert.Equal(t, 1, f.transport.Handlers())

	f.transport.Emit(context.Background(), &module.Event{ChatID: 3, RawText: "hello world"})
	f.transport.Emit(context.Background(), &module.Event{ChatID: 3, RawText: "bye"})
	f.transport.Emit(context.Background(), &module.Event{ChatID: 3, RawText: "hello me", Outgoing: true})

	sent := f.transport.Sent(3)
	assert.Contains(t, sent, "seen hello world")
	assert.NotContains(t, sent, "seen hello me")
}

func TestOff_RemovesSubscription(t *testing.T) {
	f := newFixture(t)
	h := f.host("watch", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  local h = ctx.on(nil, function() end)
  assert(ctx.off(h) == true)
end`)
	require.NoError(t, err)
	assert.Empty(t, desc.Handles())
	assert.Equal(t, 0, f.transport.Handlers())
}

func TestCommandAfterCommitIsAttached(t *testing.T) {
	f := newFixture(t)
	h := f.host("late", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  ctx.command{ name = "grow", handler = function(ev)
    ctx.command{ name = "extra", handler = function() end }
  end }
end`)
	require.NoError(t, err)
	h.Commit()

	cmd, _ := desc.Command("grow")
	require.NoError(t, cmd.Handler(context.Background(), &module.Event{ChatID: 1}))

	require.Len(t, f.attached, 1)
	assert.Equal(t, "extra", f.attached[0].Name)
	assert.Equal(t, "late", f.attached[0].Module)
}

func TestHandlerError_IsReturned(t *testing.T) {
	f := newFixture(t)
	h := f.host("fail", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  ctx.command{ name = "fail", handler = function() error("handler failed") end }
end`)
	require.NoError(t, err)

	cmd, _ := desc.Command("fail")
	err = cmd.Handler(context.Background(), &module.Event{ChatID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler failed")

	var scriptErr *module.ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.Equal(t, "fail", scriptErr.Module)
	assert.Equal(t, "handler failed", module.UserMessage(err))
}

func TestScriptMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<string>:3: bad input\nstack traceback:\n\t[G]: in function 'error'", "bad input"},
		{"weather.lua:12: attempt to index a nil value", "attempt to index a nil value"},
		{"plain failure", "plain failure"},
		{"<string>:1: \nstack traceback:", "ошибка в модуле"},
		{"time: 12:30 is busy", "time: 12:30 is busy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scriptMessage(errors.New(tt.in)), tt.in)
	}
}

func TestClose_DisablesHandlersAndJobs(t *testing.T) {
	f := newFixture(t)
	h := f.host("tick", deps.Report{})

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  ctx.every("@every 1h", function() end)
  ctx.command{ name = "tick", handler = function() end }
  ctx.module{ on_unload = function() ctx.log.info("bye") end }
end`)
	require.NoError(t, err)
	assert.Len(t, f.scheduler.Jobs("tick"), 1)
	require.NotNil(t, desc.OnUnload)
	require.NoError(t, desc.OnUnload(context.Background()))

	h.Close()
	h.Close()

	assert.Empty(t, f.scheduler.Jobs("tick"))
	cmd, _ := desc.Command("tick")
	err = cmd.Handler(context.Background(), &module.Event{})
	assert.ErrorIs(t, err, ErrHostClosed)
	assert.NoError(t, desc.OnUnload(context.Background()))
}

func TestRegistryAndUtilsAccess(t *testing.T) {
	f := newFixture(t)
	f.registry.Add(&module.Command{Name: "ping", Module: "core", Description: "pong"})
	h := f.host("peek", deps.Report{})
	defer h.Close()

	_, err := h.Setup(context.Background(), `
function setup(ctx)
  assert(ctx.name == "peek")
  assert(ctx.registry.commands().ping == "core")
  assert(ctx.registry.lookup("PING").description == "pong")
  assert(ctx.registry.lookup("nope") == nil)
  assert(ctx.utils.escape("<b>") == "&lt;b&gt;")
  assert(ctx.utils.format_duration(65) == "1м 5с")
  assert(ctx.config.set("k", "v") == true)
  assert(ctx.config.get("k") == "v")
end`)
	require.NoError(t, err)
	assert.Equal(t, "v", f.store.GetString("peek", "k", ""))
}

func TestHandlerHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	h := f.host("spin", deps.Report{})
	defer h.Close()

	desc, err := h.Setup(context.Background(), `
function setup(ctx)
  ctx.command{ name = "spin", handler = function() while true do end end }
end`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd, _ := desc.Command("spin")
	assert.Error(t, cmd.Handler(ctx, &module.Event{}))
}

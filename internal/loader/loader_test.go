package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
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

type fakeResolver struct {
	failed []deps.Failure
	calls  int
}

func (r *fakeResolver) Resolve(_ context.Context, source string) deps.Report {
	r.calls++
	return deps.Report{All: deps.ParseRequirements(source), Failed: r.failed}
}

func (r *fakeResolver) LuaPath() string { return "" }

type fixture struct {
	loader    *Loader
	dir       string
	store     *settings.Store
	registry  *registry.Registry
	transport *memory.Transport
	resolver  *fakeResolver
	scheduler *jobs.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := settings.OpenFile(context.Background(), filepath.Join(root, "cfg.json"), ".", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		dir:       filepath.Join(root, "modules"),
		store:     store,
		registry:  registry.New(zap.NewNop()),
		transport: memory.New(),
		resolver:  &fakeResolver{},
		scheduler: jobs.NewScheduler(worker.Inline{}, zap.NewNop()),
	}
	f.loader = New(Options{
		Dir:       f.dir,
		Transport: f.transport,
		Store:     store,
		Registry:  f.registry,
		Resolver:  f.resolver,
		Jobs:      f.scheduler,
		Loop:      worker.Inline{},
		Fetcher: NewFetcher(FetchConfig{
			Timeout:  5 * time.Second,
			MaxBytes: 1024,
		}, zap.NewNop()),
	}, zap.NewNop())
	return f
}

func (f *fixture) write(t *testing.T, filename, source string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.dir, 0o755))
	path := filepath.Join(f.dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func commandModule(names ...string) string {
	var b strings.Builder
	b.WriteString("function setup(ctx)\n")
	for _, n := range names {
		fmt.Fprintf(&b, "  ctx.command{ name = %q, handler = function(ev) ev.respond(%q .. \" from \" .. ctx.name) end }\n", n, n)
	}
	b.WriteString("end\n")
	return b.String()
}

func builtin(name string, commands ...string) *module.Descriptor {
	desc := &module.Descriptor{Name: name}
	for _, c := range commands {
		desc.AddCommand(&module.Command{Name: c, Handler: func(context.Context, *module.Event) error { return nil }})
	}
	return desc
}

func TestLoadUnload_RoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))

	before := f.registry.Snapshot()
	modulesBefore := len(f.loader.Modules())

	path := f.write(t, "greet.lua", `
function setup(ctx)
  ctx.module{ description = "greetings", settings = {{ key = "name", type = "str", default = "world" }} }
  ctx.command{ name = "hi", handler = function(ev) ev.respond("hi") end }
  ctx.on({ pattern = "^hey" }, function(ev) end)
  ctx.every("@every 1h", function() end)
end`)

	desc, err := f.loader.LoadFromPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "greetings", desc.Description)
	assert.Equal(t, StateActive, f.loader.State("greet"))
	assert.Equal(t, "greet", f.registry.Snapshot()["hi"])
	assert.Len(t, f.store.Schema("greet"), 1)
	assert.Equal(t, 1, f.transport.Handlers())
	assert.Len(t, f.scheduler.Jobs("greet"), 1)

	unloaded, err := f.loader.Unload(context.Background(), "greet")
	require.NoError(t, err)
	assert.True(t, unloaded)

	assert.Equal(t, before, f.registry.Snapshot())
	assert.Len(t, f.loader.Modules(), modulesBefore)
	assert.Equal(t, StateUnloaded, f.loader.State("greet"))
	assert.Empty(t, f.store.Schema("greet"))
	assert.Equal(t, 0, f.transport.Handlers())
	assert.Empty(t, f.scheduler.Jobs("greet"))

	again, err := f.loader.Unload(context.Background(), "greet")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestLoad_LastWriteWinsAndUnloadRemovesMapping(t *testing.T) {
	f := newFixture(t)
	a := f.write(t, "alpha.lua", commandModule("ping", "alpha_only"))
	b := f.write(t, "beta.lua", commandModule("ping"))

	_, err := f.loader.LoadFromPath(context.Background(), a)
	require.NoError(t, err)
	_, err = f.loader.LoadFromPath(context.Background(), b)
	require.NoError(t, err)

	cmd, ok := f.registry.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "beta", cmd.Module)

	_, err = f.loader.Unload(context.Background(), "beta")
	require.NoError(t, err)

	_, ok = f.registry.Lookup("ping")
	assert.False(t, ok)
	_, ok = f.registry.Lookup("alpha_only")
	assert.True(t, ok)
}

func TestLoad_FailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "half.lua", `
function setup(ctx)
  ctx.command{ name = "first", handler = function() end }
  ctx.on(nil, function() end)
  ctx.every("@every 1m", function() end)
  error("setup exploded")
end`)

	_, err := f.loader.LoadFromPath(context.Background(), path)
	require.Error(t, err)

	var loadErr *module.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.File)
	assert.Equal(t, module.StageSetup, loadErr.Stage)

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 0, f.transport.Handlers())
	assert.Empty(t, f.scheduler.Jobs("half"))
	assert.Equal(t, StateUnloaded, f.loader.State("half"))
	assert.Empty(t, f.loader.Modules())
}

func TestLoad_PartialDependencyFailureStillLoads(t *testing.T) {
	f := newFixture(t)
	f.resolver.failed = []deps.Failure{{Name: "missingrock", Error: "missingrock: not found"}}
	path := f.write(t, "needy.lua", `-- requires: missingrock
function setup(ctx)
  ctx.command{ name = "needy", handler = function(ev)
    if #ctx.deps.failed > 0 then
      ev.respond("missing " .. ctx.deps.failed[1].name)
    end
  end }
end`)

	desc, err := f.loader.LoadFromPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"missingrock"}, desc.Requirements)
	assert.Equal(t, []string{"missingrock"}, desc.Dependencies.FailedNames())

	cmd, ok := f.registry.Lookup("needy")
	require.True(t, ok)
	require.NoError(t, cmd.Handler(context.Background(), &module.Event{ChatID: 5}))
	assert.Equal(t, []string{"missing missingrock"}, f.transport.Sent(5))
}

func TestLoad_ReservedAndInvalidNames(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))

	_, err := f.loader.LoadFromPath(context.Background(), f.write(t, "core.lua", commandModule("x")))
	assert.ErrorIs(t, err, module.ErrReservedName)

	_, err = f.loader.LoadFromPath(context.Background(), f.write(t, "notes.txt", "hello"))
	assert.ErrorIs(t, err, module.ErrInvalidFilename)

	assert.ErrorIs(t, f.loader.RegisterBuiltin(builtin("core")), module.ErrDuplicateBuiltin)
}

func TestLoad_InvalidEncoding(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "binary.lua", string([]byte{0xff, 0xfe, 0x00}))

	_, err := f.loader.LoadFromPath(context.Background(), path)
	assert.ErrorIs(t, err, module.ErrInvalidEncoding)
}

func TestLoadFromDirectory(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a_one.lua", commandModule("one"))
	f.write(t, "b_two.lua", commandModule("two"))
	f.write(t, "_private.lua", commandModule("private"))
	f.write(t, "broken.lua", "function setup(")
	f.write(t, "off.lua", commandModule("off"))
	f.write(t, "readme.md", "# docs")
	require.NoError(t, f.store.SetDisabled("off", true))

	report, err := f.loader.LoadFromDirectory(context.Background(), f.dir)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count())
	assert.Equal(t, []string{"a_one", "b_two"}, report.Loaded)
	assert.Contains(t, report.Failed, "broken")
	assert.Equal(t, []string{"off"}, report.Skipped)

	_, ok := f.registry.Lookup("off")
	assert.False(t, ok)
	_, ok = f.registry.Lookup("private")
	assert.False(t, ok)
}

func TestLoadFromDirectory_CreatesMissingDir(t *testing.T) {
	f := newFixture(t)
	report, err := f.loader.LoadFromDirectory(context.Background(), f.dir)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count())
	assert.DirExists(t, f.dir)
}

func TestInstallFromBytes_Success(t *testing.T) {
	f := newFixture(t)
	desc, err := f.loader.InstallFromBytes(context.Background(), "weather.lua", []byte("-- requires: lua-cjson\n"+commandModule("weather")))
	require.NoError(t, err)
	assert.Equal(t, "weather", desc.Name)
	assert.FileExists(t, filepath.Join(f.dir, "weather.lua"))

	inst, ok := f.store.Installation("weather")
	require.True(t, ok)
	assert.Equal(t, "weather.lua", inst.Filename)
	assert.Equal(t, settings.SourceFile, inst.Source)
	assert.Equal(t, []string{"lua-cjson"}, inst.Requirements)
	assert.False(t, inst.InstalledAt.IsZero())
}

func TestInstallFromBytes_BrokenLeavesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.loader.InstallFromBytes(context.Background(), "bad.lua", []byte("function setup( syntax"))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.dir, "bad.lua"))
	assert.Equal(t, 0, f.registry.Len())
	_, ok := f.store.Installation("bad")
	assert.False(t, ok)

	_, err = f.loader.InstallFromBytes(context.Background(), "bad.py", []byte("print('x')"))
	assert.ErrorIs(t, err, module.ErrInvalidFilename)
	assert.NoFileExists(t, filepath.Join(f.dir, "bad.py"))
}

func TestInstallFromBytes_ReplacesAndRestores(t *testing.T) {
	f := newFixture(t)
	_, err := f.loader.InstallFromBytes(context.Background(), "tool.lua", []byte(commandModule("v1")))
	require.NoError(t, err)

	_, err = f.loader.InstallFromBytes(context.Background(), "tool.lua", []byte(commandModule("v2")))
	require.NoError(t, err)
	_, ok := f.registry.Lookup("v1")
	assert.False(t, ok)
	_, ok = f.registry.Lookup("v2")
	assert.True(t, ok)

	_, err = f.loader.InstallFromBytes(context.Background(), "tool.lua", []byte("error('nope')"))
	require.Error(t, err)

	content, err := os.ReadFile(filepath.Join(f.dir, "tool.lua"))
	require.NoError(t, err)
	assert.Equal(t, commandModule("v2"), string(content))
	_, ok = f.registry.Lookup("v2")
	assert.True(t, ok, "previous version is loaded again")
}

func TestPrepareThenCommit(t *testing.T) {
	f := newFixture(t)

	p, err := f.loader.PrepareBytes(context.Background(), "weather.lua", []byte("-- requires: lua-cjson\n"+commandModule("weather")))
	require.NoError(t, err)
	assert.Equal(t, "weather", p.Name)
	assert.Equal(t, []string{"lua-cjson"}, p.Report.All)
	assert.Equal(t, 1, f.resolver.calls)
	assert.NoFileExists(t, filepath.Join(f.dir, "weather.lua"), "prepare does not touch the modules directory")
	assert.Equal(t, 0, f.registry.Len())

	desc, err := f.loader.CommitInstall(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, f.resolver.calls, "commit reuses the resolved report")
	assert.Equal(t, []string{"lua-cjson"}, desc.Dependencies.All)
	_, ok := f.registry.Lookup("weather")
	assert.True(t, ok)

	late, err := f.loader.PrepareBytes(context.Background(), "tools.lua", []byte(commandModule("x")))
	require.NoError(t, err)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("tools", "id")))
	_, err = f.loader.CommitInstall(context.Background(), late)
	assert.ErrorIs(t, err, module.ErrReservedName)
	assert.NoFileExists(t, filepath.Join(f.dir, "tools.lua"))
}

func TestInstallFromBytes_ReservedAndEncoding(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))

	_, err := f.loader.InstallFromBytes(context.Background(), "core.lua", []byte(commandModule("x")))
	assert.ErrorIs(t, err, module.ErrReservedName)

	_, err = f.loader.InstallFromBytes(context.Background(), "bin.lua", []byte{0xff, 0xfe})
	assert.ErrorIs(t, err, module.ErrInvalidEncoding)
	assert.NoFileExists(t, filepath.Join(f.dir, "bin.lua"))
}

func TestInstallFromURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mods/remote.lua", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(commandModule("remote")))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Sign in</title></head><body></body></html>"))
	})
	mux.HandleFunc("/sneaky.lua", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  <!DOCTYPE html><html><title>Oops</title></html>"))
	})
	mux.HandleFunc("/huge.lua", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("-", 4096)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		desc, err := f.loader.InstallFromURL(context.Background(), srv.URL+"/mods/remote.lua?token=1#frag")
		require.NoError(t, err)
		assert.Equal(t, "remote", desc.Name)

		inst, ok := f.store.Installation("remote")
		require.True(t, ok)
		assert.Equal(t, settings.SourceURL, inst.Source)
		assert.Equal(t, srv.URL+"/mods/remote.lua?token=1#frag", inst.URL)
	})

	t.Run("html by content type", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.loader.InstallFromURL(context.Background(), srv.URL+"/page")
		require.Error(t, err)
		assert.ErrorIs(t, err, module.ErrHTMLPayload)
		assert.Contains(t, err.Error(), "Sign in")
		assert.NoFileExists(t, filepath.Join(f.dir, "page.lua"))
	})

	t.Run("html by body", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.loader.InstallFromURL(context.Background(), srv.URL+"/sneaky.lua")
		assert.ErrorIs(t, err, module.ErrHTMLPayload)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.loader.InstallFromURL(context.Background(), srv.URL+"/missing.lua")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 404")
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.loader.InstallFromURL(context.Background(), srv.URL+"/huge.lua")
		assert.ErrorIs(t, err, module.ErrPayloadTooLarge)
	})
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("return 1"))
	}))
	defer srv.Close()

	fetcher := NewFetcher(FetchConfig{
		Timeout:  time.Second,
		MaxBytes: 1024,
		Retry:    RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2},
	}, zap.NewNop())

	body, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "return 1", string(body))
	assert.Equal(t, 3, attempts)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://github.com/user/repo/blob/main/mods/x.lua", "https://raw.githubusercontent.com/user/repo/main/mods/x.lua"},
		{"https://gist.github.com/user/0123abcd", "https://gist.github.com/user/0123abcd/raw"},
		{"https://example.com/a.lua", "https://example.com/a.lua"},
		{"  https://example.com/b.lua ", "https://example.com/b.lua"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in))
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/mods/tool.lua?x=1#y", "tool.lua"},
		{"https://gist.github.com/user/0123abcd/raw", "raw.lua"},
		{"https://example.com/path/weather", "weather.lua"},
	}
	for _, tt := range tests {
		got, err := FilenameFromURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := FilenameFromURL("https://example.com/")
	assert.ErrorIs(t, err, module.ErrInvalidFilename)
}

func TestUninstall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))

	_, err := f.loader.Uninstall(context.Background(), "core")
	assert.ErrorIs(t, err, module.ErrBuiltinModule)

	_, err = f.loader.InstallFromBytes(context.Background(), "temp.lua", []byte(commandModule("temp")))
	require.NoError(t, err)

	result, err := f.loader.Uninstall(context.Background(), "temp")
	require.NoError(t, err)
	assert.True(t, result.Unloaded)
	assert.True(t, result.Deleted)
	assert.NoFileExists(t, filepath.Join(f.dir, "temp.lua"))
	_, ok := f.store.Installation("temp")
	assert.False(t, ok)
	_, ok = f.registry.Lookup("temp")
	assert.False(t, ok)

	_, err = f.loader.Uninstall(context.Background(), "temp")
	assert.ErrorIs(t, err, module.ErrModuleNotFound)
}

func TestUninstall_FileOnly(t *testing.T) {
	f := newFixture(t)
	f.write(t, "idle.lua", commandModule("idle"))

	result, err := f.loader.Uninstall(context.Background(), "idle")
	require.NoError(t, err)
	assert.False(t, result.Unloaded)
	assert.True(t, result.Deleted)
}

func TestReload_KeepsBuiltinsAndRescans(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))
	f.write(t, "one.lua", commandModule("one"))
	f.write(t, "two.lua", commandModule("two"))

	_, err := f.loader.LoadFromDirectory(context.Background(), f.dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "two.lua")))
	f.write(t, "three.lua", commandModule("three"))

	report, err := f.loader.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, report.Loaded)

	_, ok := f.registry.Lookup("help")
	assert.True(t, ok)
	_, ok = f.registry.Lookup("two")
	assert.False(t, ok)
	_, ok = f.registry.Lookup("three")
	assert.True(t, ok)
	assert.True(t, f.loader.IsBuiltin("core"))
}

func TestUnload_RunsHooks(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "hooked.lua", `
function setup(ctx)
  ctx.module{ on_unload = function() ctx.client.send(1, "bye") end }
end`)
	_, err := f.loader.LoadFromPath(context.Background(), path)
	require.NoError(t, err)

	_, err = f.loader.Unload(context.Background(), "hooked")
	require.NoError(t, err)
	assert.Equal(t, []string{"bye"}, f.transport.Sent(1))
}

func TestUnload_BuiltinRefused(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("core", "help")))

	_, err := f.loader.Unload(context.Background(), "core")
	assert.ErrorIs(t, err, module.ErrBuiltinModule)
}

func TestShutdown_RunsAsyncBuiltinHook(t *testing.T) {
	f := newFixture(t)
	called := false
	desc := builtin("core", "help")
	desc.OnUnload = func(context.Context) error { called = true; return nil }
	desc.OnUnloadAsync = true
	require.NoError(t, f.loader.RegisterBuiltin(desc))

	f.loader.Shutdown(context.Background())
	assert.True(t, called)
	assert.Empty(t, f.loader.Modules())
	assert.Equal(t, 0, f.registry.Len())
}

func TestCommandAddedAfterLoadIsRegistered(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "grow.lua", `
function setup(ctx)
  ctx.command{ name = "grow", handler = function(ev)
    ctx.command{ name = "grown", handler = function(e) e.respond("new") end }
  end }
end`)
	desc, err := f.loader.LoadFromPath(context.Background(), path)
	require.NoError(t, err)

	cmd, _ := f.registry.Lookup("grow")
	require.NoError(t, cmd.Handler(context.Background(), &module.Event{ChatID: 1}))

	_, ok := f.registry.Lookup("grown")
	assert.True(t, ok)
	_, ok = desc.Command("grown")
	assert.True(t, ok)

	_, err = f.loader.Unload(context.Background(), "grow")
	require.NoError(t, err)
	assert.Equal(t, 0, f.registry.Len())
}

func TestToggle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.RegisterBuiltin(builtin("tools", "id")))
	path := f.write(t, "switch.lua", commandModule("flip"))
	_, err := f.loader.LoadFromPath(context.Background(), path)
	require.NoError(t, err)

	res, err := f.loader.Toggle(context.Background(), "switch")
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.True(t, res.Applied)
	assert.True(t, f.store.IsDisabled("switch"))
	_, ok := f.registry.Lookup("flip")
	assert.False(t, ok)

	res, err = f.loader.Toggle(context.Background(), "switch")
	require.NoError(t, err)
	assert.False(t, res.Disabled)
	_, ok = f.registry.Lookup("flip")
	assert.True(t, ok)

	res, err = f.loader.Toggle(context.Background(), "tools")
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.False(t, res.Applied)
	_, ok = f.registry.Lookup("id")
	assert.True(t, ok, "built-in stays registered until restart")

	_, err = f.loader.Toggle(context.Background(), "ghost")
	assert.ErrorIs(t, err, module.ErrModuleNotFound)
	assert.False(t, f.store.IsDisabled("ghost"))
}

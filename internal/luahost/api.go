package luahost

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"kubot/internal/format"
	"kubot/internal/module"
	"kubot/internal/settings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

var commandNameRe = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// buildContext собирает таблицу ctx, передаваемую в setup.
// Функции таблицы вызываются только изнутри invoke, то есть под h.mu.
func (h *Host) buildContext() *lua.LTable {
	L := h.L
	ctx := L.NewTable()

	ctx.RawSetString("name", lua.LString(h.env.Name))
	ctx.RawSetString("module", L.NewFunction(h.luaModule))
	ctx.RawSetString("command", L.NewFunction(h.luaCommand))
	ctx.RawSetString("on", L.NewFunction(h.luaOn))
	ctx.RawSetString("off", L.NewFunction(h.luaOff))
	ctx.RawSetString("every", L.NewFunction(h.luaEvery))
	ctx.RawSetString("deps", h.depsTable())

	client := L.NewTable()
	client.RawSetString("send", L.NewFunction(h.luaSend))
	client.RawSetString("edit", L.NewFunction(h.luaEdit))
	client.RawSetString("delete", L.NewFunction(h.luaDelete))
	ctx.RawSetString("client", client)

	config := L.NewTable()
	config.RawSetString("get", L.NewFunction(h.luaConfigGet))
	config.RawSetString("set", L.NewFunction(h.luaConfigSet))
	ctx.RawSetString("config", config)

	reg := L.NewTable()
	reg.RawSetString("commands", L.NewFunction(h.luaCommands))
	reg.RawSetString("lookup", L.NewFunction(h.luaLookup))
	ctx.RawSetString("registry", reg)

	utils := L.NewTable()
	utils.RawSetString("truncate", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(format.Truncate(L.CheckString(1), L.CheckInt(2))))
		return 1
	}))
	utils.RawSetString("escape", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(format.Escape(L.CheckString(1))))
		return 1
	}))
	utils.RawSetString("title", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(format.Title(L.CheckString(1))))
		return 1
	}))
	utils.RawSetString("uptime", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(format.Duration(time.Since(h.env.StartedAt))))
		return 1
	}))
	utils.RawSetString("format_duration", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(format.Duration(time.Duration(float64(L.CheckNumber(1)) * float64(time.Second)))))
		return 1
	}))
	ctx.RawSetString("utils", utils)

	log := L.NewTable()
	log.RawSetString("info", L.NewFunction(func(L *lua.LState) int {
		h.logger.Info(L.CheckString(1))
		return 0
	}))
	log.RawSetString("warn", L.NewFunction(func(L *lua.LState) int {
		h.logger.Warn(L.CheckString(1))
		return 0
	}))
	log.RawSetString("error", L.NewFunction(func(L *lua.LState) int {
		h.logger.Error(L.CheckString(1))
		return 0
	}))
	ctx.RawSetString("log", log)

	return ctx
}

func (h *Host) depsTable() *lua.LTable {
	L := h.L
	r := h.env.Report
	t := L.NewTable()
	t.RawSetString("all", toLua(L, append([]string{}, r.All...)))
	t.RawSetString("present", toLua(L, append([]string{}, r.AlreadyPresent...)))
	t.RawSetString("installed", toLua(L, append([]string{}, r.Installed...)))
	failed := L.NewTable()
	for _, f := range r.Failed {
		item := L.NewTable()
		item.RawSetString("name", lua.LString(f.Name))
		item.RawSetString("error", lua.LString(f.Error))
		failed.Append(item)
	}
	t.RawSetString("failed", failed)
	return t
}

// currentContext контекст текущего вызова; SetContext выставляется в invoke
func (h *Host) currentContext() context.Context {
	if ctx := h.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// luaModule ctx.module{ description=, author=, version=, settings={...}, on_unload=fn }
func (h *Host) luaModule(L *lua.LState) int {
	if err := h.applyMeta(L.CheckTable(1)); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	return 0
}

func (h *Host) applyMeta(t *lua.LTable) error {
	if name := fieldString(t, "name"); name != "" && name != h.env.Name {
		h.logger.Warn("Declared module name differs from file name, using file name",
			zap.String("declared", name))
	}
	if s := fieldString(t, "description"); s != "" {
		h.desc.Description = s
	}
	if s := fieldString(t, "author"); s != "" {
		h.desc.Author = s
	}
	if v := t.RawGetString("version"); v != lua.LNil {
		h.desc.Version = lua.LVAsString(v)
	}

	if tbl := fieldTable(t, "settings"); tbl != nil {
		schema, err := parseSchema(tbl)
		if err != nil {
			return err
		}
		h.desc.Settings = schema
	}

	if fn := fieldFunc(t, "on_unload"); fn != nil {
		h.desc.OnUnload = h.callback(fn)
	}
	return nil
}

func parseSchema(tbl *lua.LTable) ([]settings.Setting, error) {
	var schema []settings.Setting
	for i := 1; i <= tbl.Len(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("settings[%d] must be a table", i)
		}
		key := fieldString(entry, "key")
		if key == "" {
			return nil, fmt.Errorf("settings[%d] has no key", i)
		}
		typ, err := settings.ParseSettingType(fieldString(entry, "type"))
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", key, err)
		}
		label := fieldString(entry, "label")
		if label == "" {
			label = key
		}
		schema = append(schema, settings.Setting{
			Key:         key,
			Label:       label,
			Type:        typ,
			Default:     toGo(entry.RawGetString("default")),
			Description: fieldString(entry, "description"),
		})
	}
	return schema, nil
}

// luaCommand ctx.command{ name=, handler=fn, description=, usage=, category= }
func (h *Host) luaCommand(L *lua.LState) int {
	t := L.CheckTable(1)
	name := strings.ToLower(strings.TrimSpace(fieldString(t, "name")))
	if !commandNameRe.MatchString(name) {
		L.ArgError(1, fmt.Sprintf("invalid command name %q", fieldString(t, "name")))
		return 0
	}
	fn := fieldFunc(t, "handler")
	if fn == nil {
		L.ArgError(1, "command handler must be a function")
		return 0
	}

	category := fieldString(t, "category")
	if category == "" {
		category = h.env.Name
	}
	cmd := &module.Command{
		Name:        name,
		Handler:     h.commandHandler(fn),
		Description: fieldString(t, "description"),
		Usage:       fieldString(t, "usage"),
		Module:      h.env.Name,
		Category:    category,
	}

	if h.committed && h.env.Attach != nil {
		h.env.Attach(cmd)
	} else {
		h.desc.AddCommand(cmd)
	}
	return 0
}

// luaOn ctx.on({ pattern=, incoming=, outgoing=, chats={} }, fn) -> handle
func (h *Host) luaOn(L *lua.LState) int {
	var filter module.EventFilter
	if t, ok := L.Get(1).(*lua.LTable); ok {
		if p := fieldString(t, "pattern"); p != "" {
			re, err := regexp.Compile(p)
			if err != nil {
				L.ArgError(1, fmt.Sprintf("invalid pattern: %v", err))
				return 0
			}
			filter.Pattern = re
		}
		filter.Incoming = fieldBool(t, "incoming")
		filter.Outgoing = fieldBool(t, "outgoing")
		if chats := fieldTable(t, "chats"); chats != nil {
			for i := 1; i <= chats.Len(); i++ {
				filter.Chats = append(filter.Chats, int64(lua.LVAsNumber(chats.RawGetInt(i))))
			}
		}
	} else if L.Get(1) != lua.LNil {
		L.ArgError(1, "filter must be a table or nil")
		return 0
	}
	fn := L.CheckFunction(2)

	handle := h.env.Transport.On(filter, h.eventHandler(fn))
	h.desc.AddHandle(handle)
	L.Push(lua.LString(handle))
	return 1
}

// luaOff ctx.off(handle) -> bool
func (h *Host) luaOff(L *lua.LState) int {
	handle := module.Handle(L.CheckString(1))
	removed := h.env.Transport.RemoveHandler(handle)
	h.desc.DropHandle(handle)
	L.Push(lua.LBool(removed))
	return 1
}

// luaEvery ctx.every(spec, fn) -> id
func (h *Host) luaEvery(L *lua.LState) int {
	spec := L.CheckString(1)
	fn := L.CheckFunction(2)
	if h.env.Jobs == nil {
		L.RaiseError("scheduler is not available")
		return 0
	}
	id, err := h.env.Jobs.Add(h.env.Name, spec, h.callback(fn))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	h.jobIDs = append(h.jobIDs, id)
	L.Push(lua.LString(id))
	return 1
}

func pushResult(L *lua.LState, value lua.LValue, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(value)
	return 1
}

// luaSend ctx.client.send(chat_id, text) -> message_id | nil, err
func (h *Host) luaSend(L *lua.LState) int {
	id, err := h.env.Transport.SendMessage(h.currentContext(), L.CheckInt64(1), L.CheckString(2))
	return pushResult(L, lua.LNumber(id), err)
}

// luaEdit ctx.client.edit(chat_id, message_id, text) -> true | nil, err
func (h *Host) luaEdit(L *lua.LState) int {
	err := h.env.Transport.EditMessage(h.currentContext(), L.CheckInt64(1), L.CheckInt(2), L.CheckString(3))
	return pushResult(L, lua.LTrue, err)
}

// luaDelete ctx.client.delete(chat_id, message_id) -> true | nil, err
func (h *Host) luaDelete(L *lua.LState) int {
	err := h.env.Transport.DeleteMessage(h.currentContext(), L.CheckInt64(1), L.CheckInt(2))
	return pushResult(L, lua.LTrue, err)
}

// luaConfigGet ctx.config.get(key, default)
func (h *Host) luaConfigGet(L *lua.LState) int {
	value := h.env.Config.Get(h.env.Name, L.CheckString(1), toGo(L.Get(2)))
	L.Push(toLua(L, value))
	return 1
}

// luaConfigSet ctx.config.set(key, value) -> true | nil, err
func (h *Host) luaConfigSet(L *lua.LState) int {
	err := h.env.Config.Set(h.env.Name, L.CheckString(1), toGo(L.Get(2)))
	return pushResult(L, lua.LTrue, err)
}

// luaCommands ctx.registry.commands() -> { name = module }
func (h *Host) luaCommands(L *lua.LState) int {
	L.Push(toLua(L, h.env.Commands.Snapshot()))
	return 1
}

// luaLookup ctx.registry.lookup(name) -> table | nil
func (h *Host) luaLookup(L *lua.LState) int {
	cmd, ok := h.env.Commands.Lookup(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	t.RawSetString("name", lua.LString(cmd.Name))
	t.RawSetString("module", lua.LString(cmd.Module))
	t.RawSetString("description", lua.LString(cmd.Description))
	t.RawSetString("usage", lua.LString(cmd.Usage))
	t.RawSetString("category", lua.LString(cmd.Category))
	L.Push(t)
	return 1
}

// eventTable представление события для обработчика Lua
func (h *Host) eventTable(ctx context.Context, ev *module.Event) *lua.LTable {
	L := h.L
	t := L.NewTable()
	t.RawSetString("chat_id", lua.LNumber(ev.ChatID))
	t.RawSetString("sender_id", lua.LNumber(ev.SenderID))
	t.RawSetString("message_id", lua.LNumber(ev.MessageID))
	t.RawSetString("text", lua.LString(ev.RawText))
	t.RawSetString("command", lua.LString(ev.Command))
	t.RawSetString("args", lua.LString(ev.Args))
	t.RawSetString("outgoing", lua.LBool(ev.Outgoing))
	t.RawSetString("is_reply", lua.LBool(ev.IsReply))

	if ev.Reply != nil {
		reply := L.NewTable()
		reply.RawSetString("chat_id", lua.LNumber(ev.Reply.ChatID))
		reply.RawSetString("sender_id", lua.LNumber(ev.Reply.SenderID))
		reply.RawSetString("message_id", lua.LNumber(ev.Reply.MessageID))
		reply.RawSetString("text", lua.LString(ev.Reply.Text))
		t.RawSetString("reply", reply)
	}

	tr := h.env.Transport
	t.RawSetString("respond", L.NewFunction(func(L *lua.LState) int {
		return pushResult(L, lua.LTrue, module.Reply(ctx, tr, ev, L.CheckString(1)))
	}))
	t.RawSetString("edit", L.NewFunction(func(L *lua.LState) int {
		return pushResult(L, lua.LTrue, tr.EditMessage(ctx, ev.ChatID, ev.MessageID, L.CheckString(1)))
	}))
	t.RawSetString("delete", L.NewFunction(func(L *lua.LState) int {
		return pushResult(L, lua.LTrue, tr.DeleteMessage(ctx, ev.ChatID, ev.MessageID))
	}))
	return t
}

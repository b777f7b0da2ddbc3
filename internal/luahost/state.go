// Package luahost исполняет модули на Lua: у каждого модуля свое изолированное
// состояние интерпретатора и таблица возможностей ctx, через которую модуль
// регистрирует команды и обращается к транспорту, настройкам и реестру.
package luahost

import (
	lua "github.com/yuin/gopher-lua"
)

// unsafeGlobals функции, позволяющие выполнить произвольный код в обход загрузчика
var unsafeGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
}

// newState создает состояние Lua только с безопасными библиотеками.
// require ищет модули только в luaPath (дерево rocks).
func newState(luaPath string) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(luaPath))
		pkg.RawSetString("cpath", lua.LString(""))
		pkg.RawSetString("loadlib", lua.LNil)
	}

	return L
}

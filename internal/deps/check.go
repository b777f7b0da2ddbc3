package deps

import (
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// LuaPath возвращает package.path для дерева rocks
func LuaPath(tree, luaVersion string) string {
	share := filepath.Join(tree, "share", "lua", luaVersion)
	return strings.Join([]string{
		filepath.Join(share, "?.lua"),
		filepath.Join(share, "?", "init.lua"),
	}, ";")
}

// requireCheck пытается загрузить модуль через require в отдельном состоянии Lua
func requireCheck(luaPath string) func(module string) bool {
	return func(module string) bool {
		if module == "" {
			return false
		}
		L := lua.NewState(lua.Options{SkipOpenLibs: true})
		defer L.Close()

		for _, lib := range []struct {
			name string
			fn   lua.LGFunction
		}{
			{lua.BaseLibName, lua.OpenBase},
			{lua.LoadLibName, lua.OpenPackage},
			{lua.TabLibName, lua.OpenTable},
			{lua.StringLibName, lua.OpenString},
			{lua.MathLibName, lua.OpenMath},
		} {
			L.Push(L.NewFunction(lib.fn))
			L.Push(lua.LString(lib.name))
			L.Call(1, 0)
		}

		if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
			pkg.RawSetString("path", lua.LString(luaPath))
			pkg.RawSetString("cpath", lua.LString(""))
		}

		err := L.CallByParam(lua.P{
			Fn:      L.GetGlobal("require"),
			NRet:    1,
			Protect: true,
		}, lua.LString(module))
		return err == nil
	}
}

// manifestLookup ищет каталог rock в метаданных дерева luarocks
func manifestLookup(tree, luaVersion string) func(dist string) bool {
	root := filepath.Join(tree, "lib", "luarocks", "rocks-"+luaVersion)
	return func(dist string) bool {
		if dist == "" {
			return false
		}
		info, err := os.Stat(filepath.Join(root, strings.ToLower(dist)))
		return err == nil && info.IsDir()
	}
}

package script

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"
)

// unsafeOS lists os functions removed from the sandbox.
var unsafeOS = []string{"execute", "exit", "getenv", "remove", "rename", "setlocale", "tmpname"}

// unsafeGlobals lists loaders removed from the sandbox.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require"}

// newSandbox creates a Lua state with only the safe standard libraries and
// the string/json helpers stages rely on.
func newSandbox() *lua.State {
	l := lua.NewState()
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
		{"os", lua.OSOpen},
	} {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}

	l.Global("os")
	for _, name := range unsafeOS {
		l.PushNil()
		l.SetField(-2, name)
	}
	l.Pop(1)
	for _, name := range unsafeGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}

	l.Register("json_encode", jsonEncode)
	l.Register("json_decode", jsonDecode)
	l.Register("str_trim", strTrim)
	l.Register("str_split", strSplit)
	l.Register("str_contains", strContains)
	l.Register("str_replace", strReplace)
	l.Register("type_of", typeOf)
	return l
}

// pushValue converts a JSON-shaped Go value to Lua.
func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []any:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case map[string]any:
		l.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			l.PushString(k)
			pushValue(l, val[k])
			l.SetTable(-3)
		}
	default:
		if data, err := json.Marshal(val); err == nil {
			l.PushString(string(data))
		} else {
			l.PushNil()
		}
	}
}

// pullValue converts the Lua value at idx to Go. Tables with only positive
// integer keys become []any, every other table becomes map[string]any.
func pullValue(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		return pullTable(l, idx)
	default:
		return nil
	}
}

func pullTable(l *lua.State, idx int) any {
	l.PushValue(idx)
	defer l.Pop(1)

	isArray := true
	maxIndex := 0
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) != lua.TypeNumber {
			isArray = false
			l.Pop(2)
			break
		}
		n, _ := l.ToNumber(-2)
		if i := int(n); i > maxIndex {
			maxIndex = i
		}
		l.Pop(1)
	}

	if isArray && maxIndex > 0 {
		arr := make([]any, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.PushInteger(i)
			l.Table(-2)
			arr[i-1] = pullValue(l, -1)
			l.Pop(1)
		}
		return arr
	}

	obj := make(map[string]any)
	l.PushNil()
	for l.Next(-2) {
		// ToString on a numeric key would convert it in place and break Next.
		l.PushValue(-2)
		key, _ := l.ToString(-1)
		l.Pop(1)
		obj[key] = pullValue(l, -1)
		l.Pop(1)
	}
	return obj
}

func jsonEncode(l *lua.State) int {
	data, err := json.Marshal(pullValue(l, 1))
	if err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	l.PushString(string(data))
	return 1
}

func jsonDecode(l *lua.State) int {
	var value any
	if err := json.Unmarshal([]byte(lua.CheckString(l, 1)), &value); err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	pushValue(l, value)
	return 1
}

func strTrim(l *lua.State) int {
	l.PushString(strings.TrimSpace(lua.CheckString(l, 1)))
	return 1
}

func strSplit(l *lua.State) int {
	parts := strings.Split(lua.CheckString(l, 1), lua.CheckString(l, 2))
	l.NewTable()
	for i, part := range parts {
		l.PushInteger(i + 1)
		l.PushString(part)
		l.SetTable(-3)
	}
	return 1
}

func strContains(l *lua.State) int {
	l.PushBoolean(strings.Contains(lua.CheckString(l, 1), lua.CheckString(l, 2)))
	return 1
}

func strReplace(l *lua.State) int {
	str := lua.CheckString(l, 1)
	old := lua.CheckString(l, 2)
	repl := lua.CheckString(l, 3)
	count := -1
	if l.Top() >= 4 {
		count = lua.CheckInteger(l, 4)
	}
	l.PushString(strings.Replace(str, old, repl, count))
	return 1
}

func typeOf(l *lua.State) int {
	switch l.TypeOf(1) {
	case lua.TypeNil:
		l.PushString("nil")
	case lua.TypeBoolean:
		l.PushString("boolean")
	case lua.TypeNumber:
		l.PushString("number")
	case lua.TypeString:
		l.PushString("string")
	case lua.TypeTable:
		l.PushString("table")
	case lua.TypeFunction:
		l.PushString("function")
	default:
		l.PushString("unknown")
	}
	return 1
}

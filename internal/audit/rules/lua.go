package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	lua "github.com/yuin/gopher-lua"

	"github.com/traylinx/flowforge/internal/audit"
)

// LuaRule runs an evaluate(target) function from a Lua script. The script
// may set the globals name, category and target_type.
type LuaRule struct {
	name       string
	category   string
	targetType string
	source     string
	proto      *lua.FunctionProto
	pool       sync.Pool
}

// newSandboxState opens only the base, table, string and math libraries.
func newSandboxState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	return L
}

// CompileLua compiles script and reads its declared globals.
func CompileLua(script, source string) (*LuaRule, error) {
	L := newSandboxState()
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("rules: compile %s: %w", source, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fmt.Errorf("rules: load %s: %w", source, err)
	}
	if L.GetGlobal("evaluate").Type() != lua.LTFunction {
		return nil, fmt.Errorf("rules: %s does not define evaluate(target)", source)
	}

	rule := &LuaRule{
		name:       strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)),
		category:   CategoryCustom,
		targetType: "",
		source:     source,
		proto:      fn.Proto,
	}
	if s, ok := L.GetGlobal("name").(lua.LString); ok && s != "" {
		rule.name = string(s)
	}
	if s, ok := L.GetGlobal("category").(lua.LString); ok && s != "" {
		rule.category = string(s)
	}
	if s, ok := L.GetGlobal("target_type").(lua.LString); ok {
		rule.targetType = string(s)
	}
	rule.pool.New = func() any { return newSandboxState() }
	return rule, nil
}

func (r *LuaRule) Name() string     { return r.name }
func (r *LuaRule) Category() string { return r.category }

// Source is the file the rule was loaded from.
func (r *LuaRule) Source() string { return r.source }

func (r *LuaRule) Evaluate(ctx context.Context, target *audit.AuditTarget) (*audit.AuditResult, error) {
	result := &audit.AuditResult{Target: target}
	if r.targetType != "" && r.targetType != string(target.Type) {
		return result, nil
	}

	L := r.pool.Get().(*lua.LState)
	defer r.pool.Put(L)
	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.NewFunctionFromProto(r.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", r.source, err)
	}
	evaluate := L.GetGlobal("evaluate")
	L.Push(evaluate)
	L.Push(goValueToLua(L, map[string]any{
		"type":       string(target.Type),
		"identifier": target.Identifier,
		"metadata":   target.Metadata,
	}))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("evaluate in %s failed: %w", r.source, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LNil {
		return result, nil
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("evaluate in %s returned %s, want a table", r.source, ret.Type())
	}

	items, _ := luaValueToGo(tbl).([]any)
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("issue #%d from %s is not a table", i+1, r.source)
		}
		issue, action := r.convert(target, i, m)
		result.Issues = append(result.Issues, issue)
		if action != nil {
			result.Actions = append(result.Actions, action)
		}
	}
	return result, nil
}

func (r *LuaRule) convert(target *audit.AuditTarget, idx int, m map[string]any) (*audit.AuditIssue, *audit.AuditAction) {
	str := func(src map[string]any, key string) string {
		s, _ := src[key].(string)
		return s
	}
	severity, ok := audit.ParseSeverity(strings.ToLower(str(m, "severity")))
	if !ok {
		severity = audit.SeverityWarning
	}
	code := str(m, "code")
	if code == "" {
		code = strings.ToUpper(r.name)
	}
	id := str(m, "id")
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s:%d", target.Type, target.Identifier, r.name, idx+1)
	}
	details, _ := m["details"].(map[string]any)
	issue := &audit.AuditIssue{
		ID:       id,
		Target:   target,
		Severity: severity,
		Code:     code,
		Message:  str(m, "message"),
		Details:  details,
	}

	a, ok := m["action"].(map[string]any)
	if !ok {
		return issue, nil
	}
	actionType := audit.ActionType(strings.ToLower(str(a, "type")))
	if actionType == "" {
		actionType = audit.ActionSuggestChange
	}
	payload, _ := a["payload"].(map[string]any)
	auto, _ := a["auto_applicable"].(bool)
	return issue, &audit.AuditAction{
		Type:           actionType,
		Description:    str(a, "description"),
		Payload:        payload,
		AutoApplicable: auto,
	}
}

func goValueToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, goValueToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goValueToLua(L, item))
		}
		return tbl
	default:
		// Normalize other shapes through JSON.
		data, err := json.Marshal(val)
		if err != nil {
			return lua.LString(fmt.Sprintf("%v", val))
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LString(string(data))
		}
		return goValueToLua(L, generic)
	}
}

func luaValueToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok {
				if idx := int(num); idx > maxIdx {
					maxIdx = idx
				}
			} else {
				isArray = false
			}
		})
		if isArray && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, item lua.LValue) {
				if num, ok := k.(lua.LNumber); ok {
					if idx := int(num) - 1; idx >= 0 && idx < len(arr) {
						arr[idx] = luaValueToGo(item)
					}
				}
			})
			return arr
		}
		if isArray {
			// Empty table: treat as an empty list.
			return []any{}
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				out[string(ks)] = luaValueToGo(item)
			}
		})
		return out
	default:
		return nil
	}
}

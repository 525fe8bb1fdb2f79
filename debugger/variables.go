package debugger

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/go-delve/delve/service/api"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// fullyQualifiedVariable 带有完整表达式的变量，用于生成子变量的表达式
type fullyQualifiedVariable struct {
	*api.Variable
	// fullyQualifiedNameOrExpr 在scope中可以用于Eval、Set的表达式
	fullyQualifiedNameOrExpr string
	isScope                  bool
	startIndex               int
	// scope 变量所在的栈帧
	scope api.EvalScope
}

// frameHandle stackTrace返回的栈帧
type frameHandle struct {
	goroutineID int64
	frame       int
	function    string
}

// handlesMap 栈帧以及变量的引用
// 程序恢复运行时调用reset，之前的引用全部失效，引用的编号不会复用
type handlesMap struct {
	lock      sync.Mutex
	next      int
	frames    map[int]*frameHandle
	variables map[int]*fullyQualifiedVariable
}

func newHandlesMap() *handlesMap {
	return &handlesMap{
		next:      1,
		frames:    make(map[int]*frameHandle),
		variables: make(map[int]*fullyQualifiedVariable),
	}
}

func (h *handlesMap) createFrame(frame *frameHandle) int {
	defer h.lock.Unlock()
	h.lock.Lock()
	id := h.next
	h.next++
	h.frames[id] = frame
	return id
}

func (h *handlesMap) getFrame(id int) (*frameHandle, error) {
	defer h.lock.Unlock()
	h.lock.Lock()
	frame, ok := h.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: frame %d", e.ErrStaleReference, id)
	}
	return frame, nil
}

func (h *handlesMap) createVariable(v *fullyQualifiedVariable) int {
	defer h.lock.Unlock()
	h.lock.Lock()
	id := h.next
	h.next++
	h.variables[id] = v
	return id
}

func (h *handlesMap) getVariable(id int) (*fullyQualifiedVariable, error) {
	defer h.lock.Unlock()
	h.lock.Lock()
	v, ok := h.variables[id]
	if !ok {
		return nil, fmt.Errorf("%w: variable %d", e.ErrStaleReference, id)
	}
	return v, nil
}

// reset 程序恢复运行时调用
func (h *handlesMap) reset() {
	defer h.lock.Unlock()
	h.lock.Lock()
	h.frames = make(map[int]*frameHandle)
	h.variables = make(map[int]*fullyQualifiedVariable)
}

const (
	skipRef convertVariableFlags = 1 << iota
	showFullValue
)

type convertVariableFlags uint8

const maxMapKeyValueLen = 64
const maxVarValueLen = 1 << 8 // 256

// childrenToDAPVariables 获取v的children
func (d *DebugSession) childrenToDAPVariables(ctx context.Context, v *fullyQualifiedVariable) []dap.Variable {
	children := []dap.Variable{} // must return empty array, not null, if no children

	switch v.Kind {
	case reflect.Map:
		for i := 0; i+1 < len(v.Children); i += 2 {
			// A map will have twice as many children as there are key-value elements.
			kvIndex := i / 2
			keyv, valv := &v.Children[i], &v.Children[i+1]
			keyexpr := fmt.Sprintf("(*(*%q)(%#x))", keyv.Type, keyv.Addr)
			valexpr := fmt.Sprintf("%s[%s]", v.fullyQualifiedNameOrExpr, keyexpr)
			switch keyv.Kind {
			// For value expression, use the key value, not the corresponding expression if the key is a scalar.
			case reflect.Bool, reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
				reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
				reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
				valexpr = fmt.Sprintf("%s[%s]", v.fullyQualifiedNameOrExpr, keyv.Value)
			case reflect.String:
				if keyv.Len == int64(len(keyv.Value)) { // fully loaded
					valexpr = fmt.Sprintf("%s[%q]", v.fullyQualifiedNameOrExpr, keyv.Value)
				}
			}
			key, keyref := d.convertVariable(ctx, keyv, keyexpr, v.scope)
			val, valref := d.convertVariable(ctx, valv, valexpr, v.scope)
			// If key or value or both are scalars, we can use
			// a single variable to represent key:value format.
			// Otherwise, we must return separate variables for both.
			if keyref > 0 && valref > 0 {
				children = append(children,
					dap.Variable{
						Name:               fmt.Sprintf("[key %d]", v.startIndex+kvIndex),
						Type:               keyv.Type,
						Value:              key,
						EvaluateName:       keyexpr,
						VariablesReference: keyref,
					},
					dap.Variable{
						Name:               fmt.Sprintf("[val %d]", v.startIndex+kvIndex),
						Type:               valv.Type,
						Value:              val,
						EvaluateName:       valexpr,
						VariablesReference: valref,
					})
			} else {
				keyValType := valv.Type
				if len(keyv.Type) > 0 && len(valv.Type) > 0 {
					keyValType = fmt.Sprintf("%s: %s", keyv.Type, valv.Type)
				}
				kvvar := dap.Variable{
					Name:         key,
					Type:         keyValType,
					Value:        val,
					EvaluateName: valexpr,
				}
				if keyref != 0 { // key is a type to be expanded
					if len(key) > maxMapKeyValueLen {
						// Truncate and make unique
						kvvar.Name = fmt.Sprintf("%s... @ %#x", key[0:maxMapKeyValueLen], keyv.Addr)
					}
					kvvar.VariablesReference = keyref
				} else if valref != 0 { // val is a type to be expanded
					kvvar.VariablesReference = valref
				}
				children = append(children, kvvar)
			}
		}
	case reflect.Slice, reflect.Array:
		children = make([]dap.Variable, len(v.Children))
		for i := range v.Children {
			idx := v.startIndex + i
			cfqname := fmt.Sprintf("%s[%d]", v.fullyQualifiedNameOrExpr, idx)
			cvalue, cvarref := d.convertVariable(ctx, &v.Children[i], cfqname, v.scope)
			children[i] = dap.Variable{
				Name:               fmt.Sprintf("[%d]", idx),
				Type:               v.Children[i].Type,
				Value:              cvalue,
				EvaluateName:       cfqname,
				VariablesReference: cvarref,
			}
		}
	default:
		children = make([]dap.Variable, len(v.Children))
		for i := range v.Children {
			c := &v.Children[i]
			cfqname := fmt.Sprintf("%s.%s", v.fullyQualifiedNameOrExpr, c.Name)

			if strings.HasPrefix(c.Name, "~") || strings.HasPrefix(c.Name, ".") {
				cfqname = ""
			} else if v.isScope && v.fullyQualifiedNameOrExpr == "" {
				cfqname = c.Name
			} else if v.fullyQualifiedNameOrExpr == "" {
				cfqname = ""
			} else if v.Kind == reflect.Interface {
				cfqname = fmt.Sprintf("%s.(%s)", v.fullyQualifiedNameOrExpr, c.Name) // c is data
			} else if v.Kind == reflect.Ptr {
				cfqname = fmt.Sprintf("(*%v)", v.fullyQualifiedNameOrExpr) // c is the nameless pointer value
			} else if v.Kind == reflect.Complex64 || v.Kind == reflect.Complex128 {
				cfqname = "" // complex children are not struct fields and can't be accessed directly
			}
			cvalue, cvarref := d.convertVariable(ctx, c, cfqname, v.scope)

			// Annotate any shadowed variables to "(name)" in order
			// to distinguish from non-shadowed variables.
			name := c.Name
			if c.Flags&api.VariableShadowed == api.VariableShadowed {
				name = fmt.Sprintf("(%s)", name)
			}

			children[i] = dap.Variable{
				Name:               name,
				Type:               c.Type,
				Value:              cvalue,
				EvaluateName:       cfqname,
				VariablesReference: cvarref,
			}
		}
	}
	return children
}

func (d *DebugSession) convertVariable(ctx context.Context, v *api.Variable, qualifiedNameOrExpr string, scope api.EvalScope) (value string, variablesReference int) {
	return d.convertVariableWithOpts(ctx, v, qualifiedNameOrExpr, scope, 0)
}

// convertVariableWithOpts allows to skip reference generation in case all we need is
// a string representation of the variable. When the variable is a compound or reference
// type variable and its full string representation can be larger than maxVarValueLen,
// this returns a truncated value unless showFull option flag is set.
func (d *DebugSession) convertVariableWithOpts(ctx context.Context, v *api.Variable, qualifiedNameOrExpr string, scope api.EvalScope, opts convertVariableFlags) (value string, variablesReference int) {
	canHaveRef := false
	maybeCreateVariableHandle := func(v *api.Variable) int {
		canHaveRef = true
		if opts&skipRef != 0 {
			return 0
		}
		return d.handles.createVariable(&fullyQualifiedVariable{v, qualifiedNameOrExpr, false /*not a scope*/, 0, scope})
	}
	value = getValueFromVariable(v)
	if v.Unreadable != "" {
		return value, 0
	}

	switch v.Kind {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, _ := strconv.ParseUint(v.Value, 10, 64)
		value = fmt.Sprintf("%s = %#x", value, n)
	case reflect.UnsafePointer:
		// Skip child reference
	case reflect.Ptr:
		if len(v.Children) > 0 && v.Children[0].Addr != 0 && v.Children[0].Kind != reflect.Invalid {
			if v.Children[0].OnlyAddr { // Not loaded
				d.reloadVariable(ctx, &v.Children[0], scope)
			}
			if !v.Children[0].OnlyAddr {
				variablesReference = maybeCreateVariableHandle(v)
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Len > int64(len(v.Children)) { // Not fully loaded
			if v.Base != 0 && len(v.Children) == 0 { // Fully missing
				value = d.reloadVariable(ctx, v, scope)
			} else {
				value = fmt.Sprintf("(loaded %d/%d) ", len(v.Children), v.Len) + value
			}
		}
		if v.Base != 0 && len(v.Children) > 0 {
			variablesReference = maybeCreateVariableHandle(v)
		}
	case reflect.Map:
		if v.Len > int64(len(v.Children)/2) { // Not fully loaded
			if len(v.Children) == 0 { // Fully missing
				value = d.reloadVariable(ctx, v, scope)
			} else {
				value = fmt.Sprintf("(loaded %d/%d) ", len(v.Children)/2, v.Len) + value
			}
		}
		if v.Base != 0 && len(v.Children) > 0 {
			variablesReference = maybeCreateVariableHandle(v)
		}
	case reflect.String:
	case reflect.Interface:
		if v.Addr != 0 && len(v.Children) > 0 && v.Children[0].Kind != reflect.Invalid && v.Children[0].Addr != 0 {
			if v.Children[0].OnlyAddr { // Not loaded
				value = d.reloadVariable(ctx, v, scope)
			}
			if !v.Children[0].OnlyAddr {
				variablesReference = maybeCreateVariableHandle(v)
			}
		}
	case reflect.Struct:
		if v.Len > int64(len(v.Children)) { // Not fully loaded
			if len(v.Children) == 0 { // Fully missing
				value = d.reloadVariable(ctx, v, scope)
			} else {
				value = fmt.Sprintf("(loaded %d/%d) ", len(v.Children), v.Len) + value
			}
		}
		if len(v.Children) > 0 {
			variablesReference = maybeCreateVariableHandle(v)
		}
	default: // Complex, Scalar, Chan, Func
		if len(v.Children) > 0 {
			variablesReference = maybeCreateVariableHandle(v)
		}
	}

	// By default, only values of variables that have children can be truncated.
	// If showFullValue is set, then all value strings are not truncated.
	canTruncateValue := showFullValue&opts == 0
	if len(value) > maxVarValueLen && canTruncateValue && canHaveRef {
		value = value[:maxVarValueLen] + "..."
	}
	return value, variablesReference
}

// reloadVariable 根据加载配置，某些类型可能完全或部分未被加载。
// 那些完全缺失的类型（例如由于达到最大变量递归限制），通过地址表达式重新加载。
func (d *DebugSession) reloadVariable(ctx context.Context, v *api.Variable, scope api.EvalScope) (value string) {
	value = getValueFromVariable(v)
	loadExpr := fmt.Sprintf("*(*%q)(%#x)", v.Type, v.Addr)
	result, err := d.client.Eval(ctx, scope, loadExpr)
	if err != nil {
		logrus.Debugf("[DebugSession] reload %s fail, err = %v", loadExpr, err)
		return value + fmt.Sprintf(" - FAILED TO LOAD: %s", err)
	}
	loaded := result.Variable()
	v.Children = loaded.Children
	v.Value = loaded.Value
	v.OnlyAddr = false
	return getValueFromVariable(v)
}

func getValueFromVariable(v *api.Variable) string {
	// 如果是指针，那么取该指针指向的地址作为value
	if v.Kind == reflect.Ptr {
		if len(v.Children) == 0 || v.Children[0].Addr == 0 {
			return "nil"
		}
		return fmt.Sprintf("(%s)(%#x)", v.Type, v.Children[0].Addr)
	}
	return v.SinglelineString()
}

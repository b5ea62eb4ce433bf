package starbind

import (
	"fmt"
	"go/constant"

	"go.starlark.net/starlark"

	"github.com/go-delve/tlsvar/pkg/proc"
)

// toStarlarkValue converts the arguments passed to a script's main
// function into starlark values.
func toStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint64:
		return starlark.MakeUint64(v)
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt(v)
	case string:
		return starlark.String(v)
	case bool:
		return starlark.Bool(v)
	case []string:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = starlark.String(v[i])
		}
		return starlark.NewList(r)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// constantToStarlarkValue converts an integer constant into a starlark
// Int.
func constantToStarlarkValue(val constant.Value) starlark.Value {
	if val == nil {
		return starlark.None
	}
	if n, exact := constant.Int64Val(val); exact {
		return starlark.MakeInt64(n)
	}
	if n, exact := constant.Uint64Val(val); exact {
		return starlark.MakeUint64(n)
	}
	return starlark.String(val.ExactString())
}

// variableValue exposes a *proc.Variable to scripts. Fields: Name, Addr,
// Type, Value.
type variableValue struct {
	v *proc.Variable
}

var _ starlark.HasAttrs = variableValue{}

func (v variableValue) Freeze() {}

func (v variableValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v variableValue) String() string {
	return v.v.String()
}

func (v variableValue) Truth() starlark.Bool {
	return true
}

func (v variableValue) Type() string {
	return "Variable"
}

func (v variableValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "Name":
		return starlark.String(v.v.Name), nil
	case "Addr":
		return starlark.MakeUint64(v.v.Addr), nil
	case "Type":
		return starlark.String(v.v.Type.String()), nil
	case "Value":
		return constantToStarlarkValue(v.v.Value), nil
	}
	return nil, nil
}

func (v variableValue) AttrNames() []string {
	return []string{"Addr", "Name", "Type", "Value"}
}

// resultValue exposes a proc.Result to scripts. Fields: Status, Addr,
// Detail, Error.
type resultValue struct {
	res proc.Result
}

var _ starlark.HasAttrs = resultValue{}

func (r resultValue) Freeze() {}

func (r resultValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (r resultValue) String() string {
	if r.res.Status == proc.Resolved {
		return fmt.Sprintf("%v %#x", r.res.Status, r.res.Addr)
	}
	return fmt.Sprintf("%v (%s)", r.res.Status, r.res.Detail)
}

func (r resultValue) Truth() starlark.Bool {
	return r.res.Status == proc.Resolved
}

func (r resultValue) Type() string {
	return "Result"
}

func (r resultValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "Status":
		return starlark.String(r.res.Status.String()), nil
	case "Addr":
		return starlark.MakeUint64(r.res.Addr), nil
	case "Detail":
		return starlark.String(r.res.Detail), nil
	case "Error":
		if err := r.res.Err(); err != nil {
			return starlark.String(err.Error()), nil
		}
		return starlark.None, nil
	}
	return nil, nil
}

func (r resultValue) AttrNames() []string {
	return []string{"Addr", "Detail", "Error", "Status"}
}

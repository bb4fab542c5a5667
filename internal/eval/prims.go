package eval

import (
	"fmt"
	"math/big"
	"strings"

	"wakerun/internal/value"
)

// The default primitive set. Failures a program can observe (division by
// zero, a bad regular expression) travel as Result-shaped values — a
// Pass/Fail record the surrounding wake code destructures — while genuine
// programmer errors (wrong arity, wrong operand type) are Go errors that
// terminate evaluation and surface through the status stream. Only
// the "panic" primitive deliberately takes the second path on purpose.

// Result, boolean, and ordering constructors, with the case ordinals the
// front end assigns them.
const (
	casePass = 0
	caseFail = 1

	caseTrue  = 0
	caseFalse = 1

	caseLT = 0
	caseEQ = 1
	caseGT = 2
)

func mkRecord(ctor string, caseIdx int, fields ...value.Value) *value.Record {
	slots := make([]value.Slot, len(fields))
	for i, f := range fields {
		s := newSlot()
		s.p.InstantFulfill(f)
		slots[i] = s
	}
	return &value.Record{Constructor: ctor, CaseIndex: caseIdx, Fields: slots}
}

func mkPass(v value.Value) *value.Record { return mkRecord("Pass", casePass, v) }
func mkFail(msg string) *value.Record {
	return mkRecord("Fail", caseFail, &value.Str{S: msg})
}

func mkBool(b bool) *value.Record {
	if b {
		return mkRecord("True", caseTrue)
	}
	return mkRecord("False", caseFalse)
}

func mkOrder(cmp int) *value.Record {
	switch {
	case cmp < 0:
		return mkRecord("LT", caseLT)
	case cmp > 0:
		return mkRecord("GT", caseGT)
	default:
		return mkRecord("EQ", caseEQ)
	}
}

func wantInt(name string, args []value.Value, i int) (*value.Int, error) {
	v, ok := args[i].(*value.Int)
	if !ok {
		return nil, fmt.Errorf("%s: argument %d is %T, want integer", name, i, args[i])
	}
	return v, nil
}

func wantDouble(name string, args []value.Value, i int) (*value.Double, error) {
	v, ok := args[i].(*value.Double)
	if !ok {
		return nil, fmt.Errorf("%s: argument %d is %T, want double", name, i, args[i])
	}
	return v, nil
}

func wantStr(name string, args []value.Value, i int) (*value.Str, error) {
	v, ok := args[i].(*value.Str)
	if !ok {
		return nil, fmt.Errorf("%s: argument %d is %T, want string", name, i, args[i])
	}
	return v, nil
}

func arity(name string, args []value.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", name, n, len(args))
	}
	return nil
}

// intBinop registers a two-integer primitive computing via fn.
func intBinop(r *Registry, name string, fn func(a, b *big.Int) value.Value) {
	r.Register(name, func(args []value.Value) (value.Value, error) {
		if err := arity(name, args, 2); err != nil {
			return nil, err
		}
		a, err := wantInt(name, args, 0)
		if err != nil {
			return nil, err
		}
		b, err := wantInt(name, args, 1)
		if err != nil {
			return nil, err
		}
		return fn(a.V, b.V), nil
	})
}

func dblBinop(r *Registry, name string, fn func(a, b float64) value.Value) {
	r.Register(name, func(args []value.Value) (value.Value, error) {
		if err := arity(name, args, 2); err != nil {
			return nil, err
		}
		a, err := wantDouble(name, args, 0)
		if err != nil {
			return nil, err
		}
		b, err := wantDouble(name, args, 1)
		if err != nil {
			return nil, err
		}
		return fn(a.V, b.V), nil
	})
}

// RegisterDefaultPrims installs the arithmetic, string, regular-expression,
// and control primitives every compiled program assumes.
func RegisterDefaultPrims(e *Evaluator) {
	r := e.Registry
	intBinop(r, "int_add", func(a, b *big.Int) value.Value {
		return &value.Int{V: new(big.Int).Add(a, b)}
	})
	intBinop(r, "int_sub", func(a, b *big.Int) value.Value {
		return &value.Int{V: new(big.Int).Sub(a, b)}
	})
	intBinop(r, "int_mul", func(a, b *big.Int) value.Value {
		return &value.Int{V: new(big.Int).Mul(a, b)}
	})
	intBinop(r, "int_div", func(a, b *big.Int) value.Value {
		if b.Sign() == 0 {
			return mkFail("division by zero")
		}
		return mkPass(&value.Int{V: new(big.Int).Quo(a, b)})
	})
	intBinop(r, "int_mod", func(a, b *big.Int) value.Value {
		if b.Sign() == 0 {
			return mkFail("modulus by zero")
		}
		return mkPass(&value.Int{V: new(big.Int).Rem(a, b)})
	})
	intBinop(r, "int_cmp", func(a, b *big.Int) value.Value {
		return mkOrder(a.Cmp(b))
	})
	intBinop(r, "int_lt", func(a, b *big.Int) value.Value {
		return mkBool(a.Cmp(b) < 0)
	})
	intBinop(r, "int_eq", func(a, b *big.Int) value.Value {
		return mkBool(a.Cmp(b) == 0)
	})

	dblBinop(r, "dbl_add", func(a, b float64) value.Value { return &value.Double{V: a + b} })
	dblBinop(r, "dbl_sub", func(a, b float64) value.Value { return &value.Double{V: a - b} })
	dblBinop(r, "dbl_mul", func(a, b float64) value.Value { return &value.Double{V: a * b} })
	dblBinop(r, "dbl_div", func(a, b float64) value.Value { return &value.Double{V: a / b} })
	dblBinop(r, "dbl_cmp", func(a, b float64) value.Value {
		switch {
		case a != a || b != b: // IEEE NaN is unordered
			return mkFail("comparison with NaN")
		case a < b:
			return mkOrder(-1)
		case a > b:
			return mkOrder(1)
		default:
			return mkOrder(0)
		}
	})

	r.Register("str_cat", func(args []value.Value) (value.Value, error) {
		var sb strings.Builder
		for i := range args {
			s, err := wantStr("str_cat", args, i)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s.S)
		}
		return &value.Str{S: sb.String()}, nil
	})
	r.Register("str_len", func(args []value.Value) (value.Value, error) {
		if err := arity("str_len", args, 1); err != nil {
			return nil, err
		}
		s, err := wantStr("str_len", args, 0)
		if err != nil {
			return nil, err
		}
		return &value.Int{V: big.NewInt(int64(len(s.S)))}, nil
	})
	r.Register("str_cmp", func(args []value.Value) (value.Value, error) {
		if err := arity("str_cmp", args, 2); err != nil {
			return nil, err
		}
		a, err := wantStr("str_cmp", args, 0)
		if err != nil {
			return nil, err
		}
		b, err := wantStr("str_cmp", args, 1)
		if err != nil {
			return nil, err
		}
		return mkOrder(strings.Compare(a.S, b.S)), nil
	})

	r.Register("re_compile", func(args []value.Value) (value.Value, error) {
		if err := arity("re_compile", args, 1); err != nil {
			return nil, err
		}
		src, err := wantStr("re_compile", args, 0)
		if err != nil {
			return nil, err
		}
		re, err := value.NewRegex(src.S)
		if err != nil {
			return mkFail(err.Error()), nil
		}
		if _, aerr := e.allocValue(re); aerr != nil {
			return nil, aerr
		}
		return mkPass(re), nil
	})
	r.Register("re_match", func(args []value.Value) (value.Value, error) {
		if err := arity("re_match", args, 2); err != nil {
			return nil, err
		}
		re, ok := args[0].(*value.Regex)
		if !ok {
			return nil, fmt.Errorf("re_match: argument 0 is %T, want regexp", args[0])
		}
		s, err := wantStr("re_match", args, 1)
		if err != nil {
			return nil, err
		}
		return mkBool(re.Matcher.MatchString(s.S)), nil
	})
	r.Register("re_extract", func(args []value.Value) (value.Value, error) {
		if err := arity("re_extract", args, 2); err != nil {
			return nil, err
		}
		re, ok := args[0].(*value.Regex)
		if !ok {
			return nil, fmt.Errorf("re_extract: argument 0 is %T, want regexp", args[0])
		}
		s, err := wantStr("re_extract", args, 1)
		if err != nil {
			return nil, err
		}
		groups := re.Matcher.FindStringSubmatch(s.S)
		if groups == nil {
			return mkFail("no match"), nil
		}
		list := consList(groups[1:])
		return mkPass(list), nil
	})

	r.Register("format", func(args []value.Value) (value.Value, error) {
		if err := arity("format", args, 1); err != nil {
			return nil, err
		}
		return &value.Str{S: FormatValue(args[0])}, nil
	})

	r.Register("panic", func(args []value.Value) (value.Value, error) {
		msg := "panic"
		if len(args) == 1 {
			if s, ok := args[0].(*value.Str); ok {
				msg = s.S
			}
		}
		return nil, fmt.Errorf("panic: %s", msg)
	})
}

// consList builds the runtime Cons/Nil list of strings, the inverse of
// stringList.
func consList(items []string) value.Value {
	var list value.Value = mkRecord("Nil", 1)
	for i := len(items) - 1; i >= 0; i-- {
		list = mkRecord("Cons", 0, &value.Str{S: items[i]}, list)
	}
	return list
}

// FormatValue renders v the way diagnostics print values: strings quoted,
// records as Constructor(fields...), unfulfilled slots as "_".
func FormatValue(v value.Value) string {
	switch t := v.(type) {
	case *value.Str:
		return fmt.Sprintf("%q", t.S)
	case *value.Int:
		return t.V.String()
	case *value.Double:
		return fmt.Sprintf("%g", t.V)
	case *value.Regex:
		return "`" + t.Source + "`"
	case *value.Closure:
		return fmt.Sprintf("<fn/%d+%d>", t.Fn.ArgCount(), len(t.Applied))
	case *value.Record:
		if len(t.Fields) == 0 {
			return t.Constructor
		}
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			if fv, ok := f.Fulfilled(); ok {
				parts[i] = FormatValue(fv)
			} else {
				parts[i] = "_"
			}
		}
		return t.Constructor + "(" + strings.Join(parts, ", ") + ")"
	case *value.Scope:
		return fmt.Sprintf("<scope/%d>", len(t.Slots))
	case *value.JobValue:
		return "<job>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

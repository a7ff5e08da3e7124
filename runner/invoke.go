package runner

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// call invokes fn with args. A returned error or a recovered panic is the
// raised condition; for panics the stack of the panicking body is captured.
func call(fn reflect.Value, args []any) (raised error, stack []event.Frame) {
	in, err := buildArgs(fn.Type(), args)
	if err != nil {
		return err, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			raised = recovered(rec)
			stack = event.CallStack(1)
		}
	}()

	return returnedError(fn.Call(in)), nil
}

func recovered(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &testcase.PanicError{Value: rec}
}

func returnedError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if !last.Type().Implements(errorType) {
		return nil
	}
	switch last.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if last.IsNil() {
			return nil
		}
	}
	return last.Interface().(error)
}

// buildArgs converts one data set into call arguments for a method of type ft.
func buildArgs(ft reflect.Type, row []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	switch {
	case ft.IsVariadic() && len(row) < n-1:
		return nil, fmt.Errorf("method expects at least %d arguments, data set provides %d", n-1, len(row))
	case !ft.IsVariadic() && len(row) != n:
		return nil, fmt.Errorf("method expects %d arguments, data set provides %d", n, len(row))
	}

	in := make([]reflect.Value, len(row))
	for i, v := range row {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		arg, err := convertArg(v, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = arg
	}
	return in, nil
}

func convertArg(v any, to reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(to), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(to) {
		return rv, nil
	}
	if to.Kind() == reflect.String && rv.Kind() != reflect.String {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, to)
	}
	if rv.Type().ConvertibleTo(to) {
		return rv.Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, to)
}

// dataSets calls a data provider. Accepted shapes are func() [][]any and
// func() ([][]any, error).
func dataSets(provider reflect.Value) (rows [][]any, err error) {
	ft := provider.Type()
	if ft.NumIn() != 0 || ft.NumOut() == 0 || ft.NumOut() > 2 {
		return nil, fmt.Errorf("data provider has unsupported signature %s", ft)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = recovered(rec)
		}
	}()

	out := provider.Call(nil)
	if ft.NumOut() == 2 {
		if err := returnedError(out[1:]); err != nil {
			return nil, err
		}
	}
	rows, ok := out[0].Interface().([][]any)
	if !ok {
		return nil, fmt.Errorf("data provider returned %s, want [][]any", out[0].Type())
	}
	if len(rows) == 0 {
		return nil, errors.New("data provider returned no data sets")
	}
	return rows, nil
}

// callHook runs a lifecycle hook; only func() and func() error are valid.
func callHook(fn reflect.Value) error {
	if fn.Type().NumIn() != 0 {
		return fmt.Errorf("hook takes %d arguments, want none", fn.Type().NumIn())
	}
	err, _ := call(fn, nil)
	return err
}

package internal

import (
	"reflect"
	"runtime"
	"strings"
)

// runtimeFuncName derives a default registration name from a function
// value's fully-qualified runtime name, trimming the package path the
// way the teacher's workflow/activity registration does when no
// explicit Name option is given.
func runtimeFuncName(fnValue reflect.Value) string {
	fullName := runtime.FuncForPC(fnValue.Pointer()).Name()
	if idx := strings.LastIndex(fullName, "."); idx >= 0 {
		return fullName[idx+1:]
	}
	return fullName
}

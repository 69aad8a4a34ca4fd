// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !release

package resource

import "fmt"

// assertf reports a programmer error. It panics unless the package is
// built with -tags release, in which case the error is only logged.
func assertf(format string, args ...any) {
	panic(fmt.Sprintf("resource: "+format, args...))
}

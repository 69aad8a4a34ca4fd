// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build release

package resource

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func assertf(format string, args ...any) {
	logrus.StandardLogger().Error(fmt.Sprintf("resource: "+format, args...))
}

// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"path"
	"strings"
)

const schemeSeparator = "://"

// ID names a resource instance within a process. It should always be
// produced by NormalizeID so that equal resources compare equal.
type ID string

// NormalizeID turns a raw identifier into its canonical form. The
// scheme and path are lowercased, backslashes become slashes and the
// path is cleaned, so "Tex://Textures\\..\\Grass.png" and
// "tex://grass.png" name the same resource. An identifier without a
// path, like "tex://", normalizes to the empty ID.
func NormalizeID(raw string) ID {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, "\\", "/")
	if raw == "" {
		return ""
	}

	scheme, p := "", raw
	if idx := strings.Index(raw, schemeSeparator); idx >= 0 {
		scheme, p = raw[:idx], raw[idx+len(schemeSeparator):]
	}

	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return ""
	}
	if scheme == "" {
		return ID(p)
	}
	return ID(scheme + schemeSeparator + p)
}

// Scheme returns the part before "://", or an empty string.
func (id ID) Scheme() string {
	if idx := strings.Index(string(id), schemeSeparator); idx >= 0 {
		return string(id[:idx])
	}
	return ""
}

// Path returns the part after "://", or the whole ID when there is no scheme.
func (id ID) Path() string {
	if idx := strings.Index(string(id), schemeSeparator); idx >= 0 {
		return string(id[idx+len(schemeSeparator):])
	}
	return string(id)
}

// Ext returns the file extension of the path, including the dot.
func (id ID) Ext() string {
	return path.Ext(id.Path())
}

func (id ID) String() string {
	return string(id)
}

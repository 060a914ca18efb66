/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

// Package templates ships the default artifact templates compiled into the
// operator binary. A mounted template directory overrides them file by file.
package templates

import "embed"

//go:embed files
var FS embed.FS

// Root is the embedded directory holding the template files.
const Root = "files"

/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package main

import (
	"os"

	"github.com/praefect-ai/Praefect/cmd/praefect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

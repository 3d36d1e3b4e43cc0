// log/stack.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package log

import (
	"path/filepath"
	"runtime"
	"strings"
)

const (
	modulePrefix  = "github.com/aerowind/dronesync/"
	maxStackDepth = 16
)

// frame is one entry of the call stack attached to warnings and errors.
type frame struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Func string `json:"func"`
}

// callstack returns the stack of whoever called the Logger method,
// innermost first, stopping at main.main.
func callstack() []frame {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}

	it := runtime.CallersFrames(pcs[:n])
	stack := make([]frame, 0, n)
	for {
		f, more := it.Next()
		stack = append(stack, frame{
			File: filepath.Base(f.File),
			Line: f.Line,
			Func: shortFuncName(f.Function),
		})
		if !more || f.Function == "main.main" {
			return stack
		}
	}
}

func shortFuncName(fn string) string {
	if rest, ok := strings.CutPrefix(fn, modulePrefix); ok {
		return rest
	}
	return strings.TrimPrefix(fn, "main.")
}

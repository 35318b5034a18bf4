//go:build tools

// Package tools фиксирует версии инструментов кодогенерации в go.mod
package tools

import (
	_ "github.com/vektra/mockery/v2"
)

// +build tools

package tools

// Binaries used to test and lint the module, pinned in go.mod.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/onsi/ginkgo/ginkgo"
)

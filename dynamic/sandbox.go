package dynamic

import "github.com/GoCodeAlone/sitebuilder/sdk"

// AllowedPackages defines the packages plugin code is permitted to import.
// Packages not in this list are rejected during source validation.
var AllowedPackages = map[string]bool{
	sdk.ImportPath: true,

	"fmt":             true,
	"strings":         true,
	"strconv":         true,
	"encoding/json":   true,
	"encoding/base64": true,
	"context":         true,
	"time":            true,
	"math":            true,
	"math/rand":       true,
	"sort":            true,
	"sync":            true,
	"errors":          true,
	"io":              true,
	"bytes":           true,
	"unicode":         true,
	"unicode/utf8":    true,
	"regexp":          true,
	"path":            true,
	"net/url":         true,
	"net/http":        true,
	"maps":            true,
	"slices":          true,
	"html":            true,
	"html/template":   true,
	"text/template":   true,
}

// BlockedPackages defines packages that are explicitly forbidden.
var BlockedPackages = map[string]bool{
	"os/exec":        true,
	"syscall":        true,
	"unsafe":         true,
	"plugin":         true,
	"runtime/debug":  true,
	"reflect":        true,
	"os":             true,
	"net":            true,
	"crypto/tls":     true,
	"debug/elf":      true,
	"debug/macho":    true,
	"debug/pe":       true,
	"debug/plan9obj": true,
}

// IsPackageAllowed checks if an import path is permitted in plugin code.
func IsPackageAllowed(pkg string) bool {
	if BlockedPackages[pkg] {
		return false
	}
	return AllowedPackages[pkg]
}

package testing

import (
	"strings"

	"github.com/samber/lo"
)

// RandString returns n random letters and digits
func RandString(n int) string {
	return lo.RandomString(n, lo.AlphanumericCharset)
}

// RandHandle returns a random valid user handle
func RandHandle() string {
	return "u_" + strings.ToLower(RandString(12))
}

package repository

import (
	"fmt"
	"strings"
)

// placeholdersFrom renders n positional parameters starting at $start.
func placeholdersFrom(start, n int) string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(values, ",")
}

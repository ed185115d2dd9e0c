package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeQuery lower-cases text and collapses runs of whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// HashQuery keys a query together with extra parts such as a result limit.
func HashQuery(query string, parts ...any) string {
	key := NormalizeQuery(query)
	for _, p := range parts {
		key += fmt.Sprintf("|%v", p)
	}
	return HashString(key)
}

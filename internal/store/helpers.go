package store

import (
	"encoding/json"
	"strings"
)

// marshalPaths converts []string to JSON text for storage.
func marshalPaths(paths []string) string {
	if len(paths) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(paths)
	return string(b)
}

// unmarshalPaths converts JSON text back to []string.
func unmarshalPaths(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var paths []string
	_ = json.Unmarshal([]byte(s), &paths)
	return paths
}

// boolInt converts a bool to the 0/1 stored in INTEGER columns.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePrefix escapes s for use as a LIKE prefix pattern with ESCAPE '\'.
func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}

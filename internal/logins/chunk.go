package logins

import "strings"

// sqliteMaxVariables is conservative headroom under SQLite's default
// SQLITE_MAX_VARIABLE_NUMBER (999 in most builds), used as the default chunk
// size for IN-list operations over large guid sets. Store.WithChunkSize
// overrides it per instance.
const sqliteMaxVariables = 500

// chunkStrings splits ids into groups of at most size, preserving order.
func chunkStrings(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// inClause builds a "?, ?, ..." placeholder list and the matching arg slice
// for a chunk of ids.
func inClause(ids []string) (string, []any) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}

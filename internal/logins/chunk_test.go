package logins

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkStrings_SplitsIntoBoundedGroups(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	chunks := chunkStrings(ids, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunks)
}

func TestChunkStrings_EmptyInputYieldsNoChunks(t *testing.T) {
	assert.Nil(t, chunkStrings(nil, 500))
}

func TestChunkStrings_SizeLargerThanInputYieldsOneChunk(t *testing.T) {
	ids := []string{"a", "b"}
	chunks := chunkStrings(ids, 500)
	assert.Equal(t, [][]string{{"a", "b"}}, chunks)
}

func TestInClause_BuildsMatchingPlaceholdersAndArgs(t *testing.T) {
	placeholders, args := inClause([]string{"a", "b", "c"})
	assert.Equal(t, "?,?,?", placeholders)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

func TestInClause_Empty(t *testing.T) {
	placeholders, args := inClause(nil)
	assert.Empty(t, placeholders)
	assert.Empty(t, args)
}

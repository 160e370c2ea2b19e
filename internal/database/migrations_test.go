package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationVersionsUnique(t *testing.T) {
	seen := map[int]bool{}
	for _, m := range Migrations {
		assert.False(t, seen[m.Version], "duplicate migration version %d", m.Version)
		seen[m.Version] = true
		assert.NotEmpty(t, m.Up)
		assert.NotEmpty(t, m.Down)
	}
}

func TestMessagesTableOrdersBySeq(t *testing.T) {
	var found bool
	for _, m := range Migrations {
		if m.Version == 4 {
			found = true
			assert.Contains(t, m.Up, "seq BIGSERIAL")
			assert.Contains(t, m.Up, "(conversation_id, created_at, seq)")
		}
	}
	assert.True(t, found)
}

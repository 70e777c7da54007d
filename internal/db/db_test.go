package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/assistant-relay/internal/chat"
)

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	require.True(t, gdb.Migrator().HasTable(&chat.Conversation{}))
	require.True(t, gdb.Migrator().HasTable("rate_limit_hits"))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "x", false)
	require.Error(t, err)
}

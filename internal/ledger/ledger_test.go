package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/custody"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "coc.db")})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, DriverSQLite, l.Driver)
	require.NoError(t, l.Migrate(ctx))
	require.NoError(t, l.Ping(ctx))

	svc := custody.NewService(l, custody.Options{})
	_, err = svc.Record(ctx, custody.RecordInput{
		CaseID: "c1", FileHash: "abc123", ActivityType: custody.ActivityUploaded,
		Actor: custody.Actor{UserID: "u1"},
	})
	require.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	assert.Error(t, err)
}

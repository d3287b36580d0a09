package postgres

import (
	"errors"
	"io"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	src, err := migrationSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)

	_, err = src.Next(next)
	assert.True(t, errors.Is(err, os.ErrNotExist), "no migrations after %d", next)

	for _, v := range []uint{first, next} {
		up, _, err := src.ReadUp(v)
		require.NoError(t, err, "up migration %d", v)
		up.Close()

		down, _, err := src.ReadDown(v)
		require.NoError(t, err, "down migration %d", v)
		down.Close()
	}

	up, _, err := src.ReadUp(next)
	require.NoError(t, err)
	defer up.Close()
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "last_checked_at")
}

func (s *DomainRepoSuite) TestMigrateReportsDriverFailure() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT CURRENT_DATABASE()")).
		WillReturnError(errors.New("connection reset by peer"))

	err := s.db.Migrate()
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "failed to create migration driver")
}

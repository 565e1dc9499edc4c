package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/db/dbtest"
	"github.com/oggyb/cowatch/internal/logger"
)

func TestSeedTestData(t *testing.T) {
	database := dbtest.Open(t)
	require.NoError(t, db.SeedTestData(database, logger.Discard()))
	// a second run starts from scratch
	require.NoError(t, db.SeedTestData(database, logger.Discard()))

	var users int64
	require.NoError(t, database.Model(&db.User{}).Count(&users).Error)
	assert.EqualValues(t, db.SeedUserCount, users)

	var sessions []db.WatchSession
	require.NoError(t, database.Find(&sessions).Error)
	assert.Len(t, sessions, db.SeedUserCount-db.SeedUserCount/4)

	var relations []db.Relation
	require.NoError(t, database.Find(&relations).Error)
	byKey := map[[2]string]db.Relation{}
	for _, r := range relations {
		byKey[[2]string{r.OwnerID, r.OtherID}] = r
	}
	for k, r := range byKey {
		reverse, ok := byKey[[2]string{k[1], k[0]}]
		require.True(t, ok, "missing reverse of %v", k)
		assert.Equal(t, r.Status, reverse.Status, "status of %v", k)
	}

	blocked := byKey[[2]string{db.SeedUserID(3), db.SeedUserID(4)}]
	assert.True(t, blocked.Blocked)
	unmatched := byKey[[2]string{db.SeedUserID(1), db.SeedUserID(2)}]
	assert.Equal(t, db.RelationUnmatched, unmatched.Status)
	assert.Equal(t, "550", unmatched.MatchedContentID)
}

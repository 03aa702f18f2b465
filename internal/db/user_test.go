package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func newUserCollection(t *testing.T) *MongoUserCollection {
	database := testDatabase(t)
	return &MongoUserCollection{Collection: database.Collection(UsersCollection)}
}

func TestMongoUserCollection_InsertUser(t *testing.T) {
	users := newUserCollection(t)

	user := models.User{
		Phone:  "+15550100",
		Name:   "Test Driver",
		Role:   models.RoleDriver,
		OrgIDs: []string{"org-1"},
	}

	inserted, err := users.InsertUser(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, inserted.ID.IsZero())
	assert.True(t, inserted.IsActive)
	assert.NotZero(t, inserted.CreatedAt)

	found, err := users.FindUserByID(context.Background(), inserted.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.Phone, found.Phone)
	assert.Equal(t, user.Role, found.Role)
	assert.Equal(t, []string{"org-1"}, found.OrgIDs)
}

func TestMongoUserCollection_FindUserByPhone(t *testing.T) {
	users := newUserCollection(t)

	missing, err := users.FindUserByPhone(context.Background(), "+15550199")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = users.InsertUser(context.Background(), models.User{Phone: "+15550100", Role: models.RoleAdmin})
	require.NoError(t, err)

	found, err := users.FindUserByPhone(context.Background(), "+15550100")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.RoleAdmin, found.Role)
}

func TestMongoUserCollection_FindUserByID_Invalid(t *testing.T) {
	users := &MongoUserCollection{}
	_, err := users.FindUserByID(context.Background(), "invalid-id")
	assert.Error(t, err)
}

func TestMongoUserCollection_UpdateUser(t *testing.T) {
	users := newUserCollection(t)

	inserted, err := users.InsertUser(context.Background(), models.User{Phone: "+15550100", Role: models.RoleDriver})
	require.NoError(t, err)

	inserted.OrgIDs = []string{"org-1", "org-2"}
	inserted.Name = "Renamed"
	require.NoError(t, users.UpdateUser(context.Background(), inserted.ID.Hex(), *inserted))

	found, err := users.FindUserByID(context.Background(), inserted.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", found.Name)
	assert.Equal(t, []string{"org-1", "org-2"}, found.OrgIDs)
}

func TestMongoUserCollection_UpdateLastLogin(t *testing.T) {
	users := newUserCollection(t)

	inserted, err := users.InsertUser(context.Background(), models.User{Phone: "+15550100", Role: models.RoleDriver})
	require.NoError(t, err)
	assert.Nil(t, inserted.LastLogin)

	require.NoError(t, users.UpdateLastLogin(context.Background(), inserted.ID.Hex()))

	found, err := users.FindUserByID(context.Background(), inserted.ID.Hex())
	require.NoError(t, err)
	assert.NotNil(t, found.LastLogin)
}

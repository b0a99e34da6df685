package repositories

import (
	stderrors "errors"
	"log/slog"
	"testing"

	cherrors "cipherchat/errors"
	"cipherchat/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func Test_Add_And_List_User_Connections(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	connections := NewConnectionRepository(db, slog.Default())
	userID := domain.UserID(1)
	socket1 := uuid.NewString()
	socket2 := uuid.NewString()

	// When the same user connects from two tabs
	req.NoError(connections.AddConnection(userID, socket1))
	req.NoError(connections.AddConnection(userID, socket2))

	// Then both rows are visible
	listed, err := connections.ListUserConnections(userID)
	req.NoError(err)
	req.Len(listed, 2)
	req.ElementsMatch([]string{socket1, socket2}, lo.Map(listed, func(c domain.Connection, _ int) string {
		return c.SocketID
	}))

	// And a single-row lookup answers the online check
	one, err := connections.GetUserConnection(userID)
	req.NoError(err)
	req.Equal(userID, one.UserID)
}

func Test_Remove_Connection_Reports_Whether_A_Row_Existed(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	connections := NewConnectionRepository(db, slog.Default())
	userID := domain.UserID(1)
	socketID := uuid.NewString()
	req.NoError(connections.AddConnection(userID, socketID))

	removed, err := connections.RemoveConnection(socketID)
	req.NoError(err)
	req.True(removed)

	// Removing again is a no-op, expected on disconnect races
	removed, err = connections.RemoveConnection(socketID)
	req.NoError(err)
	req.False(removed)

	listed, err := connections.ListUserConnections(userID)
	req.NoError(err)
	req.Empty(listed)
}

func Test_Get_User_Connection_When_Offline(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	connections := NewConnectionRepository(db, slog.Default())

	_, err := connections.GetUserConnection(domain.UserID(99))

	req.Error(err)
	req.True(stderrors.Is(err, cherrors.ErrConnectionNotFound))
}

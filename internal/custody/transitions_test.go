package custody

import (
	"testing"

	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/stretchr/testify/require"
)

var tiers = []models.Tier{models.TierHQ, models.TierRegion, models.TierCluster, models.TierCenter}

func TestDeriveDirection_FollowsTierOrder(t *testing.T) {
	for _, a := range tiers {
		for _, b := range tiers {
			got := DeriveDirection(a, b)
			switch {
			case Level(a) < Level(b):
				require.Equal(t, models.DirectionForward, got, "%s -> %s", a, b)
			case Level(a) > Level(b):
				require.Equal(t, models.DirectionReturn, got, "%s -> %s", a, b)
			default:
				require.Equal(t, models.DirectionForward, got, "same tier %s", a)
			}
		}
	}
}

func TestDeriveReceiveStatus(t *testing.T) {
	cases := []struct {
		to   models.Tier
		dir  models.Direction
		want models.PacketStatus
	}{
		{models.TierRegion, models.DirectionForward, models.StatusAtRegion},
		{models.TierCluster, models.DirectionForward, models.StatusAtCluster},
		{models.TierCenter, models.DirectionForward, models.StatusAtCenter},
		{models.TierHQ, models.DirectionForward, models.StatusPacked},
		{models.TierCluster, models.DirectionReturn, models.StatusReturnedToCluster},
		{models.TierRegion, models.DirectionReturn, models.StatusReturnedToRegion},
		{models.TierHQ, models.DirectionReturn, models.StatusReturnedToHQ},
	}
	for _, tc := range cases {
		got, err := DeriveReceiveStatus(tc.to, tc.dir)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := DeriveReceiveStatus(models.TierCenter, models.DirectionReturn)
	require.ErrorIs(t, err, ErrUnmappedTransition)
}

func TestDeriveDispatchStatus(t *testing.T) {
	got, err := DeriveDispatchStatus(models.TierRegion, models.DirectionForward)
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatchedToRegion, got)

	got, err = DeriveDispatchStatus(models.TierCluster, models.DirectionForward)
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatchedToCluster, got)

	got, err = DeriveDispatchStatus(models.TierCenter, models.DirectionForward)
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatchedToCenter, got)

	for _, to := range []models.Tier{models.TierHQ, models.TierRegion, models.TierCluster} {
		got, err := DeriveDispatchStatus(to, models.DirectionReturn)
		require.NoError(t, err)
		require.Equal(t, models.StatusCollected, got)
	}

	// No silent fallback to DISPATCHED_TO_REGION.
	_, err = DeriveDispatchStatus(models.TierHQ, models.DirectionForward)
	require.ErrorIs(t, err, ErrUnmappedTransition)
}

func TestDeriveStatus_UnknownMode(t *testing.T) {
	_, err := DeriveStatus("TELEPORT", models.TierRegion, models.DirectionForward)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheckManualStatus(t *testing.T) {
	require.NoError(t, CheckManualStatus(models.StatusCreated, models.StatusPacked))
	require.NoError(t, CheckManualStatus(models.StatusAtCenter, models.StatusOpened))
	require.NoError(t, CheckManualStatus(models.StatusOpened, models.StatusAdministered))
	require.NoError(t, CheckManualStatus(models.StatusReturnedToHQ, models.StatusCompleted))
	require.NoError(t, CheckManualStatus(models.StatusDispatchedToCluster, models.StatusMissing))
	require.NoError(t, CheckManualStatus(models.StatusAtRegion, models.StatusDamaged))

	require.ErrorIs(t, CheckManualStatus(models.StatusAtRegion, models.StatusOpened), ErrInvalidTransition)
	require.ErrorIs(t, CheckManualStatus(models.StatusAtRegion, models.StatusAtCluster), ErrInvalidTransition)
	require.ErrorIs(t, CheckManualStatus(models.StatusCompleted, models.StatusMissing), ErrTerminalPacket)
}

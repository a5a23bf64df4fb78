package custody

import (
	"fmt"

	"github.com/BearBump/PacketCustody/internal/models"
)

type transitionKey struct {
	tier models.Tier
	dir  models.Direction
}

// Only the pairs listed here are valid. Anything else is an error, never a default.
var receiveStatuses = map[transitionKey]models.PacketStatus{
	{models.TierHQ, models.DirectionForward}:      models.StatusPacked,
	{models.TierRegion, models.DirectionForward}:  models.StatusAtRegion,
	{models.TierCluster, models.DirectionForward}: models.StatusAtCluster,
	{models.TierCenter, models.DirectionForward}:  models.StatusAtCenter,

	{models.TierCluster, models.DirectionReturn}: models.StatusReturnedToCluster,
	{models.TierRegion, models.DirectionReturn}:  models.StatusReturnedToRegion,
	{models.TierHQ, models.DirectionReturn}:      models.StatusReturnedToHQ,
}

var dispatchStatuses = map[transitionKey]models.PacketStatus{
	{models.TierRegion, models.DirectionForward}:  models.StatusDispatchedToRegion,
	{models.TierCluster, models.DirectionForward}: models.StatusDispatchedToCluster,
	{models.TierCenter, models.DirectionForward}:  models.StatusDispatchedToCenter,

	{models.TierHQ, models.DirectionReturn}:      models.StatusCollected,
	{models.TierRegion, models.DirectionReturn}:  models.StatusCollected,
	{models.TierCluster, models.DirectionReturn}: models.StatusCollected,
}

// DeriveDirection compares tier levels. A move within the same tier counts as FORWARD.
func DeriveDirection(from, to models.Tier) models.Direction {
	if Level(to) < Level(from) {
		return models.DirectionReturn
	}
	return models.DirectionForward
}

func DeriveReceiveStatus(to models.Tier, dir models.Direction) (models.PacketStatus, error) {
	if s, ok := receiveStatuses[transitionKey{to, dir}]; ok {
		return s, nil
	}
	return "", fmt.Errorf("receive at %s going %s: %w", to, dir, ErrUnmappedTransition)
}

func DeriveDispatchStatus(to models.Tier, dir models.Direction) (models.PacketStatus, error) {
	if s, ok := dispatchStatuses[transitionKey{to, dir}]; ok {
		return s, nil
	}
	return "", fmt.Errorf("dispatch to %s going %s: %w", to, dir, ErrUnmappedTransition)
}

func DeriveStatus(mode models.HandoverMode, to models.Tier, dir models.Direction) (models.PacketStatus, error) {
	switch mode {
	case models.ModeReceive:
		return DeriveReceiveStatus(to, dir)
	case models.ModeDispatch:
		return DeriveDispatchStatus(to, dir)
	default:
		return "", fmt.Errorf("mode %q: %w", mode, ErrInvalidTransition)
	}
}

// Statuses recorded in place by an operator, with the statuses they may follow.
var manualStatusPrereqs = map[models.PacketStatus][]models.PacketStatus{
	models.StatusPacked:       {models.StatusCreated},
	models.StatusOpened:       {models.StatusAtCenter},
	models.StatusAdministered: {models.StatusOpened},
	models.StatusCompleted:    {models.StatusReturnedToHQ},
}

func IsTerminal(s models.PacketStatus) bool {
	return s == models.StatusCompleted
}

// CheckManualStatus reports whether next may be recorded on a packet currently in current.
// MISSING and DAMAGED may be asserted from anywhere except a completed packet.
func CheckManualStatus(current, next models.PacketStatus) error {
	if IsTerminal(current) {
		return ErrTerminalPacket
	}
	if next == models.StatusMissing || next == models.StatusDamaged {
		return nil
	}
	prereqs, ok := manualStatusPrereqs[next]
	if !ok {
		return fmt.Errorf("%s cannot be recorded manually: %w", next, ErrInvalidTransition)
	}
	for _, p := range prereqs {
		if p == current {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", current, next, ErrInvalidTransition)
}

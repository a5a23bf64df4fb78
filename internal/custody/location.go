package custody

import "github.com/BearBump/PacketCustody/internal/models"

var tierLevels = map[models.Tier]int{
	models.TierHQ:      0,
	models.TierRegion:  1,
	models.TierCluster: 2,
	models.TierCenter:  3,
}

// Level returns the position of tier in the hierarchy, or -1 for an unknown tier.
// It only orders tiers; nothing else should treat it as a number.
func Level(tier models.Tier) int {
	if l, ok := tierLevels[tier]; ok {
		return l
	}
	return -1
}

func IsLocationValid(ref models.LocationRef) bool {
	return ValidateLocation(ref) == nil
}

// ValidateLocation checks that every ancestor id down to ref.Tier is set and that
// no id below the tier is asserted. HQ needs nothing and ignores stray ids.
func ValidateLocation(ref models.LocationRef) error {
	lvl := Level(ref.Tier)
	if lvl < 0 {
		return &IncompleteLocationSelectionError{Tier: ref.Tier, Missing: []string{"tier"}}
	}
	if ref.Tier == models.TierHQ {
		return nil
	}

	fields := []struct {
		name  string
		id    *uint64
		level int
	}{
		{"regionId", ref.RegionID, 1},
		{"clusterId", ref.ClusterID, 2},
		{"centerId", ref.CenterID, 3},
	}

	var missing, forbidden []string
	for _, f := range fields {
		set := f.id != nil && *f.id != 0
		switch {
		case f.level <= lvl && !set:
			missing = append(missing, f.name)
		case f.level > lvl && f.id != nil:
			forbidden = append(forbidden, f.name)
		}
	}
	if len(missing) > 0 || len(forbidden) > 0 {
		return &IncompleteLocationSelectionError{Tier: ref.Tier, Missing: missing, Forbidden: forbidden}
	}
	return nil
}

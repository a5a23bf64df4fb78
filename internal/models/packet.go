package models

import "time"

type Tier string

const (
	TierHQ      Tier = "HQ"
	TierRegion  Tier = "REGION"
	TierCluster Tier = "CLUSTER"
	TierCenter  Tier = "CENTER"
)

// LocationRef points at one node of the HQ -> region -> cluster -> center tree.
// Ids below Tier are ancestors and must be set; ids above Tier must be empty.
type LocationRef struct {
	Tier      Tier    `json:"tier"`
	RegionID  *uint64 `json:"regionId,omitempty"`
	ClusterID *uint64 `json:"clusterId,omitempty"`
	CenterID  *uint64 `json:"centerId,omitempty"`
}

func HQ() LocationRef { return LocationRef{Tier: TierHQ} }

func Region(regionID uint64) LocationRef {
	return LocationRef{Tier: TierRegion, RegionID: &regionID}
}

func Cluster(regionID, clusterID uint64) LocationRef {
	return LocationRef{Tier: TierCluster, RegionID: &regionID, ClusterID: &clusterID}
}

func Center(regionID, clusterID, centerID uint64) LocationRef {
	return LocationRef{Tier: TierCenter, RegionID: &regionID, ClusterID: &clusterID, CenterID: &centerID}
}

// Equal compares tier and the ids that are meaningful for that tier.
func (l LocationRef) Equal(o LocationRef) bool {
	if l.Tier != o.Tier {
		return false
	}
	switch l.Tier {
	case TierHQ:
		return true
	case TierRegion:
		return eqID(l.RegionID, o.RegionID)
	case TierCluster:
		return eqID(l.RegionID, o.RegionID) && eqID(l.ClusterID, o.ClusterID)
	default:
		return eqID(l.RegionID, o.RegionID) && eqID(l.ClusterID, o.ClusterID) && eqID(l.CenterID, o.CenterID)
	}
}

func eqID(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type PacketStatus string

const (
	StatusCreated             PacketStatus = "CREATED"
	StatusPacked              PacketStatus = "PACKED"
	StatusDispatchedToRegion  PacketStatus = "DISPATCHED_TO_REGION"
	StatusAtRegion            PacketStatus = "AT_REGION"
	StatusDispatchedToCluster PacketStatus = "DISPATCHED_TO_CLUSTER"
	StatusAtCluster           PacketStatus = "AT_CLUSTER"
	StatusDispatchedToCenter  PacketStatus = "DISPATCHED_TO_CENTER"
	StatusAtCenter            PacketStatus = "AT_CENTER"
	StatusOpened              PacketStatus = "OPENED"
	StatusAdministered        PacketStatus = "ADMINISTERED"
	StatusCollected           PacketStatus = "COLLECTED"
	StatusReturnedToCluster   PacketStatus = "RETURNED_TO_CLUSTER"
	StatusReturnedToRegion    PacketStatus = "RETURNED_TO_REGION"
	StatusReturnedToHQ        PacketStatus = "RETURNED_TO_HQ"
	StatusCompleted           PacketStatus = "COMPLETED"
	StatusMissing             PacketStatus = "MISSING"
	StatusDamaged             PacketStatus = "DAMAGED"
)

var allStatuses = []PacketStatus{
	StatusCreated, StatusPacked,
	StatusDispatchedToRegion, StatusAtRegion,
	StatusDispatchedToCluster, StatusAtCluster,
	StatusDispatchedToCenter, StatusAtCenter,
	StatusOpened, StatusAdministered, StatusCollected,
	StatusReturnedToCluster, StatusReturnedToRegion, StatusReturnedToHQ,
	StatusCompleted, StatusMissing, StatusDamaged,
}

func (s PacketStatus) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Direction string

const (
	DirectionForward Direction = "FORWARD"
	DirectionReturn  Direction = "RETURN"
)

// HandoverMode tells whether the operator takes a packet in at their own
// location or sends it on from there.
type HandoverMode string

const (
	ModeReceive  HandoverMode = "RECEIVE"
	ModeDispatch HandoverMode = "DISPATCH"
	// ModeStatus marks events recorded in place (opened, missing, ...), not a transfer.
	ModeStatus HandoverMode = "STATUS"
)

type ExamPacket struct {
	ID                  uint64       `json:"id"`
	Barcode             string       `json:"barcode"`
	ExamYearID          uint64       `json:"examYearId"`
	SubjectID           uint64       `json:"subjectId"`
	Grade               int32        `json:"grade"`
	DestinationCenterID uint64       `json:"destinationCenterId"`
	PaperCount          int32        `json:"paperCount"`
	SecuritySealNumber  string       `json:"securitySealNumber"`
	Notes               string       `json:"notes,omitempty"`
	Status              PacketStatus `json:"status"`
	CurrentLocation     LocationRef  `json:"currentLocation"`
	LastHandoverAt      *time.Time   `json:"lastHandoverAt,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

type PacketCreateInput struct {
	Barcode             string `json:"barcode"`
	ExamYearID          uint64 `json:"examYearId"`
	SubjectID           uint64 `json:"subjectId"`
	Grade               int32  `json:"grade"`
	DestinationCenterID uint64 `json:"destinationCenterId"`
	PaperCount          int32  `json:"paperCount"`
	SecuritySealNumber  string `json:"securitySealNumber"`
	Notes               string `json:"notes,omitempty"`
}

// HandoverEvent is one custody transfer. Once accepted it is never edited.
type HandoverEvent struct {
	ID               uint64       `json:"id,omitempty"`
	PacketID         uint64       `json:"packetId"`
	ClientEventID    string       `json:"clientEventId"`
	ClientTimestamp  time.Time    `json:"clientTimestamp"`
	SenderStaffID    *uint64      `json:"senderStaffId,omitempty"`
	ReceiverStaffID  *uint64      `json:"receiverStaffId,omitempty"`
	Mode             HandoverMode `json:"mode"`
	Direction        Direction    `json:"direction"`
	From             LocationRef  `json:"from"`
	To               LocationRef  `json:"to"`
	ExpectedStatus   PacketStatus `json:"expectedStatus"`
	StatusAtHandover PacketStatus `json:"statusAtHandover"`
	Notes            string       `json:"notes,omitempty"`
	GPSLatitude      *float64     `json:"gpsLatitude,omitempty"`
	GPSLongitude     *float64     `json:"gpsLongitude,omitempty"`
	HandoverTime     time.Time    `json:"handoverTime"`
	AcceptedAt       *time.Time   `json:"acceptedAt,omitempty"`
}

// HandoverResult is the per-event answer of the authoritative store.
type HandoverResult struct {
	ClientEventID string `json:"clientEventId"`
	Accepted      bool   `json:"accepted"`
	// Duplicate is set when the event had already been accepted earlier.
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Rejection reasons reported on the sync boundary.
const (
	ReasonNotFound          = "packet_not_found"
	ReasonInvalidLocation   = "invalid_location"
	ReasonStaleBaseline     = "stale_baseline"
	ReasonTerminal          = "packet_terminal"
	ReasonInvalidTransition = "invalid_transition"
	ReasonInvalidEvent      = "invalid_event"
	ReasonBlocked           = "blocked_by_earlier_event"
	ReasonInternal          = "internal_error"
	ReasonSubmissionFailed  = "submission_failed"
)

package messages

import (
	"time"

	"github.com/BearBump/PacketCustody/internal/models"
)

const (
	// TopicHandoverSubmitted carries events relayed by devices that cannot reach the API.
	// The regional SMS/radio relay gateway publishes it; nothing in this module does.
	TopicHandoverSubmitted = "packet.handover.submitted"
	// TopicHandoverAccepted announces every event the store accepted.
	TopicHandoverAccepted = "packet.handover.accepted"
)

type HandoverSubmitted struct {
	DeviceID string               `json:"device_id,omitempty"`
	Event    models.HandoverEvent `json:"event"`
}

type HandoverAccepted struct {
	PacketID      uint64              `json:"packet_id"`
	Barcode       string              `json:"barcode"`
	EventID       uint64              `json:"event_id"`
	ClientEventID string              `json:"client_event_id"`
	Mode          models.HandoverMode `json:"mode"`
	Direction     models.Direction    `json:"direction"`
	From          models.LocationRef  `json:"from"`
	To            models.LocationRef  `json:"to"`
	Status        models.PacketStatus `json:"status"`
	HandoverTime  time.Time           `json:"handover_time"`
	AcceptedAt    time.Time           `json:"accepted_at"`
}

package custody_api

import "github.com/BearBump/PacketCustody/internal/models"

type PingRequest struct{}

type PingResponse struct {
	OK bool `json:"ok"`
}

type CreatePacketsRequest struct {
	Items []models.PacketCreateInput `json:"items"`
}

type CreatePacketsResponse struct {
	Packets []*models.ExamPacket `json:"packets"`
}

type LookupPacketRequest struct {
	Barcode string `json:"barcode"`
}

type LookupPacketResponse struct {
	Packet *models.ExamPacket `json:"packet"`
}

type ListHandoversRequest struct {
	PacketID uint64 `json:"packetId"`
	Limit    int32  `json:"limit,omitempty"`
	Offset   int32  `json:"offset,omitempty"`
}

type ListHandoversResponse struct {
	Events []*models.HandoverEvent `json:"events"`
}

type SubmitHandoverRequest struct {
	Event models.HandoverEvent `json:"event"`
}

type SubmitHandoverResponse struct {
	Result models.HandoverResult `json:"result"`
}

type SyncHandoversRequest struct {
	DeviceID string                 `json:"deviceId,omitempty"`
	Events   []models.HandoverEvent `json:"events"`
}

type SyncHandoversResponse struct {
	Results []models.HandoverResult `json:"results"`
}

type RecordStatusRequest struct {
	Barcode string              `json:"barcode"`
	Status  models.PacketStatus `json:"status"`
	StaffID *uint64             `json:"staffId,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

type RecordStatusResponse struct {
	Result models.HandoverResult `json:"result"`
}

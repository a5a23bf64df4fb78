package mocks

import (
	"context"

	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/storage/pgcustody"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrGetPackets(ctx context.Context, items []models.PacketCreateInput) ([]*models.ExamPacket, error) {
	args := m.Called(ctx, items)
	out, _ := args.Get(0).([]*models.ExamPacket)
	return out, args.Error(1)
}

func (m *MockRepository) GetPacketByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	args := m.Called(ctx, barcode)
	out, _ := args.Get(0).(*models.ExamPacket)
	return out, args.Error(1)
}

func (m *MockRepository) ListHandovers(ctx context.Context, packetID uint64, limit, offset int) ([]*models.HandoverEvent, error) {
	args := m.Called(ctx, packetID, limit, offset)
	out, _ := args.Get(0).([]*models.HandoverEvent)
	return out, args.Error(1)
}

func (m *MockRepository) ApplyHandover(ctx context.Context, ev models.HandoverEvent) (pgcustody.ApplyResult, error) {
	args := m.Called(ctx, ev)
	out, _ := args.Get(0).(pgcustody.ApplyResult)
	return out, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

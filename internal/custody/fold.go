package custody

import "github.com/BearBump/PacketCustody/internal/models"

// Initial resets a packet to the state it had when it was registered.
func Initial(p models.ExamPacket) models.ExamPacket {
	p.Status = models.StatusCreated
	p.CurrentLocation = models.HQ()
	p.LastHandoverAt = nil
	return p
}

// Apply folds one accepted event into the packet. The event's status and
// destination win over whatever the packet held before.
func Apply(p models.ExamPacket, ev models.HandoverEvent) models.ExamPacket {
	p.Status = ev.StatusAtHandover
	p.CurrentLocation = ev.To
	t := ev.HandoverTime
	p.LastHandoverAt = &t
	return p
}

func Fold(initial models.ExamPacket, events []models.HandoverEvent) models.ExamPacket {
	p := initial
	for _, ev := range events {
		p = Apply(p, ev)
	}
	return p
}

// CheckBaseline verifies the event was built against the packet as it is now.
func CheckBaseline(p models.ExamPacket, ev models.HandoverEvent) error {
	if ev.ExpectedStatus != p.Status || !ev.From.Equal(p.CurrentLocation) {
		return ErrStaleBaseline
	}
	return nil
}

// Admit decides whether a validated event may be applied on top of p.
// With strict set the event must also have been built against p's current state.
func Admit(p models.ExamPacket, ev models.HandoverEvent, strict bool) error {
	if ev.Mode == models.ModeStatus {
		if err := CheckManualStatus(p.Status, ev.StatusAtHandover); err != nil {
			return err
		}
	} else if IsTerminal(p.Status) {
		return ErrTerminalPacket
	}
	if strict {
		return CheckBaseline(p, ev)
	}
	return nil
}

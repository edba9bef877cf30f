// Package booking serializes every read-check-write on the shared calendar.
// Holders of a (date, time) key never interleave, whichever store backs them.
package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
)

// Grid is the canonical list of bookable times for one day.
var Grid = []string{"09:00", "10:00", "11:00", "13:00", "14:00", "15:00", "16:00"}

const (
	MessageSlotTaken = "Slot already taken."
	MessageBooked    = "Appointment booked."
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// SlotID is the deterministic document id of the record for (date, time).
func SlotID(date, at string) string {
	return "slot_" + date + "_" + strings.ReplaceAll(at, ":", "")
}

func slotKey(date, at string) string {
	return recordx.CollectionSchedule + ":" + date + "T" + at
}

type Guard struct {
	repo *recordx.Repository
}

func NewGuard(repo *recordx.Repository) (*Guard, error) {
	if repo == nil {
		return nil, errors.New("record repository is required")
	}
	return &Guard{repo: repo}, nil
}

type BookRequest struct {
	Date        string
	Time        string
	ServiceType string
	ClientName  string
}

type BookResult struct {
	Success   bool
	BookingID string
	Message   string
}

// Book creates a booked slot unless any non-open record already occupies the
// same date and time. A conflict is a normal result, not an error.
func (g *Guard) Book(ctx context.Context, req BookRequest) (BookResult, error) {
	if err := ValidateDate(req.Date); err != nil {
		return BookResult{}, err
	}
	if err := ValidateTime(req.Time); err != nil {
		return BookResult{}, err
	}
	if strings.TrimSpace(req.ServiceType) == "" {
		return BookResult{}, fmt.Errorf("%w: serviceType is required", contractx.ErrValidation)
	}

	st := g.repo.Store()
	now := g.repo.Now()
	slot := recordx.ScheduleSlot{
		Date:        req.Date,
		Time:        req.Time,
		Status:      recordx.SlotBooked,
		ServiceType: strings.TrimSpace(req.ServiceType),
		ClientName:  strings.TrimSpace(req.ClientName),
		Source:      recordx.AuditSourceAI,
		CreatedAt:   now,
	}

	var res BookResult
	err := st.Exclusive(ctx, []string{slotKey(req.Date, req.Time)}, func(ctx context.Context) error {
		existing, err := g.repo.SlotsOn(ctx, req.Date)
		if err != nil {
			return err
		}

		reopenID := ""
		for _, s := range existing {
			if s.Time != req.Time {
				continue
			}
			if s.Occupied() {
				res = BookResult{Message: MessageSlotTaken}
				return nil
			}
			if reopenID == "" {
				reopenID = s.ID
			}
		}

		slot.ID = SlotID(req.Date, req.Time)
		if reopenID != "" {
			slot.ID = reopenID
		}
		doc, err := storex.Encode(slot)
		if err != nil {
			return err
		}

		if reopenID != "" {
			if err := st.BatchWrite(ctx, recordx.CollectionSchedule, []storex.Write{{ID: reopenID, Doc: doc}}); err != nil {
				return err
			}
			res = BookResult{Success: true, BookingID: reopenID, Message: MessageBooked}
			return nil
		}

		id, err := st.Create(ctx, recordx.CollectionSchedule, slot.ID, doc)
		if errors.Is(err, storex.ErrAlreadyExists) {
			res = BookResult{Message: MessageSlotTaken}
			return nil
		}
		if err != nil {
			return err
		}
		res = BookResult{Success: true, BookingID: id, Message: MessageBooked}
		return nil
	})
	if err != nil {
		return BookResult{}, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("date", req.Date).
		Str("time", req.Time).
		Bool("success", res.Success).
		Msg("booking attempt")
	return res, nil
}

type SetStatusRequest struct {
	Date   string
	Time   string
	Status recordx.SlotStatus
	Reason string
}

type SetStatusResult struct {
	Success      bool
	UpdatedSlots []string
}

// SetStatus overwrites the status of one slot, or of the whole canonical grid
// when Time is empty. It never rejects on conflict and applies every slot of
// the call in a single batch.
func (g *Guard) SetStatus(ctx context.Context, req SetStatusRequest) (SetStatusResult, error) {
	if err := ValidateDate(req.Date); err != nil {
		return SetStatusResult{}, err
	}
	times := Grid
	if req.Time != "" {
		if err := ValidateTime(req.Time); err != nil {
			return SetStatusResult{}, err
		}
		times = []string{req.Time}
	}
	if !req.Status.Valid() {
		return SetStatusResult{}, fmt.Errorf("%w: unknown status %q", contractx.ErrValidation, req.Status)
	}

	keys := make([]string, 0, len(times))
	for _, t := range times {
		keys = append(keys, slotKey(req.Date, t))
	}

	st := g.repo.Store()
	now := g.repo.Now()

	err := st.Exclusive(ctx, keys, func(ctx context.Context) error {
		existing, err := g.repo.SlotsOn(ctx, req.Date)
		if err != nil {
			return err
		}
		byTime := make(map[string][]recordx.ScheduleSlot, len(existing))
		for _, s := range existing {
			byTime[s.Time] = append(byTime[s.Time], s)
		}

		writes := make([]storex.Write, 0, len(times))
		for _, t := range times {
			if current := byTime[t]; len(current) > 0 {
				// One record keeps the time; extra records at the same time are
				// reopened so the time never holds two occupying records.
				keep := keeper(current, SlotID(req.Date, t))
				for _, s := range current {
					status, reason := req.Status, req.Reason
					if s.ID != keep {
						status, reason = recordx.SlotOpen, "superseded by "+keep
					}
					writes = append(writes, storex.Write{
						ID: s.ID,
						Doc: storex.Doc{
							"status":    string(status),
							"reason":    reason,
							"updatedAt": now.Format(time.RFC3339Nano),
						},
						Merge: true,
					})
				}
				continue
			}
			doc, err := storex.Encode(recordx.ScheduleSlot{
				ID:        SlotID(req.Date, t),
				Date:      req.Date,
				Time:      t,
				Status:    req.Status,
				Reason:    req.Reason,
				Source:    recordx.AuditSourceAI,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			writes = append(writes, storex.Write{ID: SlotID(req.Date, t), Doc: doc})
		}

		if err := st.BatchWrite(ctx, recordx.CollectionSchedule, writes); err != nil {
			return fmt.Errorf("%w: %s on %s: %v", contractx.ErrAtomicWrite, req.Status, req.Date, err)
		}
		return nil
	})
	if err != nil {
		return SetStatusResult{}, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("date", req.Date).
		Str("status", string(req.Status)).
		Int("slots", len(times)).
		Msg("schedule updated")
	return SetStatusResult{Success: true, UpdatedSlots: append([]string(nil), times...)}, nil
}

// keeper picks the record that carries a status change: the deterministic
// slot record when present, else the first in store order.
func keeper(slots []recordx.ScheduleSlot, slotID string) string {
	for _, s := range slots {
		if s.ID == slotID {
			return s.ID
		}
	}
	return slots[0].ID
}

// Free returns the grid times not occupied on date. Open records do not occupy
// their time.
func Free(slots []recordx.ScheduleSlot) []string {
	busy := make(map[string]bool, len(slots))
	for _, s := range slots {
		if s.Time != "" && s.Occupied() {
			busy[s.Time] = true
		}
	}
	out := make([]string, 0, len(Grid))
	for _, t := range Grid {
		if !busy[t] {
			out = append(out, t)
		}
	}
	return out
}

func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", contractx.ErrValidation, date)
	}
	if _, err := time.Parse(recordx.DateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q: %v", contractx.ErrValidation, date, err)
	}
	return nil
}

func ValidateTime(at string) error {
	if !timePattern.MatchString(at) {
		return fmt.Errorf("%w: time %q must be HH:MM", contractx.ErrValidation, at)
	}
	if _, err := time.Parse(recordx.TimeLayout, at); err != nil {
		return fmt.Errorf("%w: time %q: %v", contractx.ErrValidation, at, err)
	}
	return nil
}

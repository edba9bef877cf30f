// Package record gives typed access to the CRM collections the agent tools read
// and write. Documents keep the JSON shape the CRM dashboard uses.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	CollectionSchedule  = "schedule"
	CollectionProducts  = "products"
	CollectionInvoices  = "invoices"
	CollectionQuotes    = "quotes"
	CollectionKnowledge = "knowledge"
	CollectionClients   = "clients"
	CollectionTeam      = "team"
	CollectionAudit     = "ai_audit_logs"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type SlotStatus string

const (
	SlotBooked      SlotStatus = "booked"
	SlotUnavailable SlotStatus = "unavailable"
	SlotHoliday     SlotStatus = "holiday"
	SlotTraining    SlotStatus = "training"
	SlotOpen        SlotStatus = "open"
)

// SlotStatuses lists every accepted status, in the order tools advertise them.
var SlotStatuses = []SlotStatus{SlotBooked, SlotUnavailable, SlotHoliday, SlotTraining, SlotOpen}

func (s SlotStatus) Valid() bool {
	for _, v := range SlotStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ScheduleSlot is one calendar entry. Entries created by the dashboard may carry
// only a title and no status; those still occupy their time.
type ScheduleSlot struct {
	ID          string     `json:"id,omitempty"`
	Date        string     `json:"date"`
	Time        string     `json:"time,omitempty"`
	Status      SlotStatus `json:"status,omitempty"`
	ServiceType string     `json:"serviceType,omitempty"`
	ClientName  string     `json:"clientName,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Title       string     `json:"title,omitempty"`
	Address     string     `json:"address,omitempty"`
	Source      string     `json:"source,omitempty"`
	CreatedAt   time.Time  `json:"createdAt,omitzero"`
	UpdatedAt   time.Time  `json:"updatedAt,omitzero"`
}

// Occupied reports whether the slot blocks new bookings at its time.
func (s ScheduleSlot) Occupied() bool {
	return s.Status != SlotOpen
}

func (s *ScheduleSlot) setID(id string) { s.ID = id }

// Amount is a money value. The dashboard stores prices as strings ("450.00"),
// tools write numbers; both decode.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

func (a Amount) Float() float64 { return float64(a) }

type Product struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Price    Amount `json:"price"`
}

func (p *Product) setID(id string) { p.ID = id }

type Invoice struct {
	ID       string `json:"id,omitempty"`
	Client   string `json:"client"`
	ClientID string `json:"clientId,omitempty"`
	Date     string `json:"date,omitempty"`
	Amount   Amount `json:"amount"`
	Status   string `json:"status"`
	Items    []any  `json:"items,omitempty"`
}

func (i *Invoice) setID(id string) { i.ID = id }

type QuoteItem struct {
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

const QuoteDraft = "draft"

type Quote struct {
	ID         string      `json:"id,omitempty"`
	Items      []QuoteItem `json:"items"`
	ClientName string      `json:"clientName,omitempty"`
	Total      float64     `json:"total"`
	Status     string      `json:"status"`
	Source     string      `json:"source,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (q *Quote) setID(id string) { q.ID = id }

type KnowledgeArticle struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (k *KnowledgeArticle) setID(id string) { k.ID = id }

type Client struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

func (c *Client) setID(id string) { c.ID = id }

type TeamMember struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (m *TeamMember) setID(id string) { m.ID = id }

type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
)

// AuditSourceAI distinguishes agent writes from dashboard writes ("USER").
const AuditSourceAI = "AI"

type AuditEntry struct {
	ID          string         `json:"id,omitempty"`
	Action      AuditAction    `json:"action"`
	Collection  string         `json:"collection"`
	DocID       string         `json:"docId"`
	Details     map[string]any `json:"details,omitempty"`
	Source      string         `json:"source"`
	PerformedBy string         `json:"performedBy,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *AuditEntry) setID(id string) { e.ID = id }

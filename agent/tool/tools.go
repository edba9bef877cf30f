package tool

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	bookingx "github.com/tanpawarit/chative-crm-agent/agent/booking"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
)

const (
	ToolCheckAvailability   = "checkAvailability"
	ToolGetProductPrice     = "getProductPrice"
	ToolCreateQuote         = "createQuote"
	ToolListInvoices        = "listInvoices"
	ToolBookAppointment     = "bookAppointment"
	ToolUpdateSchedule      = "updateSchedule"
	ToolSearchKnowledgeBase = "searchKnowledgeBase"
)

const (
	EventBookingCreated  = "booking.created"
	EventQuoteCreated    = "quote.created"
	EventScheduleUpdated = "schedule.updated"
)

const (
	datePattern = `^\d{4}-\d{2}-\d{2}$`
	timePattern = `^([01]\d|2[0-3]):[0-5]\d$`
)

func (c *Catalog) builtins() ([]*ToolSpec, error) {
	var specs []*ToolSpec
	add := func(spec *ToolSpec, err error) error {
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}

	err := errors.Join(
		add(NewSpec(ToolCheckAvailability,
			"Checks if a specific date has any free slots and lists them.",
			false, c.checkAvailability, func(s *jsonschema.Schema) {
				property(s, "date").Pattern = datePattern
			})),
		add(NewSpec(ToolGetProductPrice,
			"Gets the price of a service or product by (partial) name.",
			false, c.getProductPrice, nil)),
		add(NewSpec(ToolCreateQuote,
			"Creates a draft quote from line items. The total is the sum of the item prices.",
			true, c.createQuote, func(s *jsonschema.Schema) {
				atLeastOne := 1
				property(s, "items").MinItems = &atLeastOne
			})),
		add(NewSpec(ToolListInvoices,
			"Lists up to five invoices, optionally filtered by status.",
			false, c.listInvoices, func(s *jsonschema.Schema) {
				property(s, "status").Enum = []any{"paid", "unpaid", "overdue", "all"}
			})),
		add(NewSpec(ToolBookAppointment,
			"Books an appointment at a date and time. Fails when the slot is already taken.",
			true, c.bookAppointment, func(s *jsonschema.Schema) {
				property(s, "date").Pattern = datePattern
				property(s, "time").Pattern = timePattern
			})),
		add(NewSpec(ToolUpdateSchedule,
			"Sets the status of one time slot, or of the whole day when time is omitted (e.g. holiday, training).",
			true, c.updateSchedule, func(s *jsonschema.Schema) {
				property(s, "date").Pattern = datePattern
				property(s, "time").Pattern = timePattern
				enum := make([]any, 0, len(recordx.SlotStatuses))
				for _, st := range recordx.SlotStatuses {
					enum = append(enum, string(st))
				}
				property(s, "status").Enum = enum
			})),
		add(NewSpec(ToolSearchKnowledgeBase,
			"Searches the company knowledge base (warranties, procedures, service areas).",
			false, c.searchKnowledgeBase, nil)),
	)
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// property returns the named property schema, creating an empty one when For
// did not emit it.
func property(s *jsonschema.Schema, name string) *jsonschema.Schema {
	if s.Properties == nil {
		s.Properties = make(map[string]*jsonschema.Schema)
	}
	p, ok := s.Properties[name]
	if !ok {
		p = &jsonschema.Schema{}
		s.Properties[name] = p
	}
	return p
}

/* ---------------------------- checkAvailability --------------------------- */

type AvailabilityInput struct {
	Date string `json:"date" jsonschema:"Date in YYYY-MM-DD format"`
}

type AvailabilityOutput struct {
	Available bool     `json:"available"`
	Slots     []string `json:"slots"`
}

func (c *Catalog) checkAvailability(ctx context.Context, in AvailabilityInput) (AvailabilityOutput, error) {
	if err := bookingx.ValidateDate(in.Date); err != nil {
		return AvailabilityOutput{}, err
	}
	slots, err := c.repo.SlotsOn(ctx, in.Date)
	if err != nil {
		return AvailabilityOutput{}, err
	}
	free := bookingx.Free(slots)
	return AvailabilityOutput{Available: len(free) > 0, Slots: free}, nil
}

/* ----------------------------- getProductPrice ---------------------------- */

type PriceInput struct {
	ProductName string `json:"productName" jsonschema:"Name or part of the name of the product or service"`
}

type PriceOutput struct {
	Price *float64 `json:"price,omitempty"`
	Name  string   `json:"name,omitempty"`
	Found bool     `json:"found"`
}

func (c *Catalog) getProductPrice(ctx context.Context, in PriceInput) (PriceOutput, error) {
	needle := strings.ToLower(strings.TrimSpace(in.ProductName))
	products, err := c.repo.Products(ctx)
	if err != nil {
		return PriceOutput{}, err
	}
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			price := p.Price.Float()
			return PriceOutput{Price: &price, Name: p.Name, Found: true}, nil
		}
	}
	return PriceOutput{Found: false}, nil
}

/* ------------------------------ createQuote ------------------------------- */

type QuoteItemInput struct {
	Description string  `json:"description" jsonschema:"Line item description"`
	Price       float64 `json:"price" jsonschema:"Line item price"`
}

type QuoteInput struct {
	Items      []QuoteItemInput `json:"items" jsonschema:"Quote line items"`
	ClientName string           `json:"clientName,omitempty" jsonschema:"Name of the client the quote is for"`
}

type QuoteOutput struct {
	QuoteID string  `json:"quoteId"`
	Total   float64 `json:"total"`
	Success bool    `json:"success"`
}

func (c *Catalog) createQuote(ctx context.Context, in QuoteInput) (QuoteOutput, error) {
	items := make([]recordx.QuoteItem, 0, len(in.Items))
	total := 0.0
	for _, it := range in.Items {
		items = append(items, recordx.QuoteItem{Description: it.Description, Price: it.Price})
		total += it.Price
	}
	total = roundCents(total)

	q := recordx.Quote{
		Items:      items,
		ClientName: strings.TrimSpace(in.ClientName),
		Total:      total,
		Status:     recordx.QuoteDraft,
		Source:     recordx.AuditSourceAI,
	}
	id, err := c.repo.CreateQuote(ctx, q)
	if err != nil {
		return QuoteOutput{}, err
	}

	c.recordMutation(ctx, recordx.AuditCreate, recordx.CollectionQuotes, id, map[string]any{
		"clientName": q.ClientName,
		"total":      total,
		"items":      len(items),
	}, EventQuoteCreated)
	return QuoteOutput{QuoteID: id, Total: total, Success: true}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

/* ------------------------------ listInvoices ------------------------------ */

type InvoicesInput struct {
	Status string `json:"status,omitempty" jsonschema:"Invoice status filter"`
}

type InvoiceSummary struct {
	ID     string  `json:"id"`
	Client string  `json:"client"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
	Date   string  `json:"date,omitempty"`
}

type InvoicesOutput struct {
	Invoices []InvoiceSummary `json:"invoices"`
	Found    bool             `json:"found"`
}

func (c *Catalog) listInvoices(ctx context.Context, in InvoicesInput) (InvoicesOutput, error) {
	invoices, err := c.repo.Invoices(ctx, in.Status, c.invoiceLimit)
	if err != nil {
		return InvoicesOutput{}, err
	}
	out := InvoicesOutput{Invoices: make([]InvoiceSummary, 0, len(invoices))}
	for _, inv := range invoices {
		out.Invoices = append(out.Invoices, InvoiceSummary{
			ID:     inv.ID,
			Client: inv.Client,
			Amount: inv.Amount.Float(),
			Status: inv.Status,
			Date:   inv.Date,
		})
	}
	out.Found = len(out.Invoices) > 0
	return out, nil
}

/* ----------------------------- bookAppointment ---------------------------- */

type BookInput struct {
	Date        string `json:"date" jsonschema:"Date in YYYY-MM-DD format"`
	Time        string `json:"time" jsonschema:"Time in HH:MM 24h format"`
	ServiceType string `json:"serviceType" jsonschema:"Type of service requested"`
	ClientName  string `json:"clientName,omitempty" jsonschema:"Name of the client"`
}

type BookOutput struct {
	Success   bool   `json:"success"`
	BookingID string `json:"bookingId,omitempty"`
	Message   string `json:"message"`
}

func (c *Catalog) bookAppointment(ctx context.Context, in BookInput) (BookOutput, error) {
	res, err := c.guard.Book(ctx, bookingx.BookRequest{
		Date:        in.Date,
		Time:        in.Time,
		ServiceType: in.ServiceType,
		ClientName:  in.ClientName,
	})
	if err != nil {
		return BookOutput{}, err
	}
	if res.Success {
		c.recordMutation(ctx, recordx.AuditCreate, recordx.CollectionSchedule, res.BookingID, map[string]any{
			"date":        in.Date,
			"time":        in.Time,
			"serviceType": in.ServiceType,
			"clientName":  in.ClientName,
		}, EventBookingCreated)
	}
	return BookOutput{Success: res.Success, BookingID: res.BookingID, Message: res.Message}, nil
}

/* ----------------------------- updateSchedule ----------------------------- */

type ScheduleInput struct {
	Date   string `json:"date" jsonschema:"Date in YYYY-MM-DD format"`
	Time   string `json:"time,omitempty" jsonschema:"Time in HH:MM; omit to apply to the whole day"`
	Reason string `json:"reason,omitempty" jsonschema:"Why the slot status changes"`
	Status string `json:"status" jsonschema:"New slot status"`
}

type ScheduleOutput struct {
	Success      bool     `json:"success"`
	UpdatedSlots []string `json:"updatedSlots"`
}

func (c *Catalog) updateSchedule(ctx context.Context, in ScheduleInput) (ScheduleOutput, error) {
	res, err := c.guard.SetStatus(ctx, bookingx.SetStatusRequest{
		Date:   in.Date,
		Time:   in.Time,
		Status: recordx.SlotStatus(in.Status),
		Reason: in.Reason,
	})
	if err != nil {
		return ScheduleOutput{}, err
	}
	c.recordMutation(ctx, recordx.AuditUpdate, recordx.CollectionSchedule, in.Date, map[string]any{
		"date":   in.Date,
		"slots":  res.UpdatedSlots,
		"status": in.Status,
		"reason": in.Reason,
	}, EventScheduleUpdated)
	return ScheduleOutput{Success: res.Success, UpdatedSlots: res.UpdatedSlots}, nil
}

/* --------------------------- searchKnowledgeBase -------------------------- */

type SearchInput struct {
	Query string `json:"query" jsonschema:"What to look up"`
}

type KnowledgeHit struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type SearchOutput struct {
	Results []KnowledgeHit `json:"results"`
	Found   bool           `json:"found"`
}

func (c *Catalog) searchKnowledgeBase(ctx context.Context, in SearchInput) (SearchOutput, error) {
	articles, err := c.repo.Knowledge(ctx)
	if err != nil {
		return SearchOutput{}, err
	}
	top := RankArticles(articles, in.Query, c.searchLimit)
	out := SearchOutput{Results: make([]KnowledgeHit, 0, len(top))}
	for _, a := range top {
		out.Results = append(out.Results, KnowledgeHit{Title: a.Title, Content: a.Content})
	}
	out.Found = len(out.Results) > 0
	return out, nil
}

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
)

const testDate = "2025-03-14"

type fakePublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// queryFailingStore fails every Query, as a store outage would.
type queryFailingStore struct {
	storex.Store
}

func (queryFailingStore) Query(context.Context, string, storex.Query) ([]storex.Snapshot, error) {
	return nil, errors.New("store unavailable")
}

func newTestRepo(t *testing.T, wrap func(storex.Store) storex.Store) *recordx.Repository {
	t.Helper()
	s, err := storex.NewBadger(storex.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	var st storex.Store = s
	if wrap != nil {
		st = wrap(s)
	}
	fixed := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	repo, err := recordx.NewRepository(st, recordx.WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func newSeededCatalog(t *testing.T, opts ...Option) (*Catalog, *recordx.Repository) {
	t.Helper()
	repo := newTestRepo(t, nil)
	if err := recordx.Seed(context.Background(), repo); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	c, err := NewCatalog(repo, opts...)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c, repo
}

func call(name, args string) contractx.ToolCall {
	return contractx.ToolCall{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}
}

func resultMap(t *testing.T, r contractx.ToolResult) map[string]any {
	t.Helper()
	if r.Error != "" {
		t.Fatalf("unexpected tool error: %s", r.Error)
	}
	m, ok := r.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map", r.Result)
	}
	return m
}

func TestCatalogListsEveryTool(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	want := []string{
		ToolCheckAvailability, ToolGetProductPrice, ToolCreateQuote, ToolListInvoices,
		ToolBookAppointment, ToolUpdateSchedule, ToolSearchKnowledgeBase,
	}
	if got := c.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if got := len(c.Infos()); got != len(want) {
		t.Fatalf("Infos() len = %d", got)
	}
	for _, d := range c.Definitions() {
		if d.Parameters == nil || d.Description == "" {
			t.Fatalf("definition %q lacks schema or description", d.Name)
		}
	}
}

func TestCreateQuoteTotalsItemsAndPersistsDraft(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	c, repo := newSeededCatalog(t, WithPublisher(pub))
	ctx := WithPerformer(context.Background(), "client_7")

	res, err := c.Execute(ctx, call(ToolCreateQuote,
		`{"items":[{"description":"Service Call","price":99},{"description":"Labor","price":450}]}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := resultMap(t, res)
	if out["total"] != float64(549) || out["success"] != true {
		t.Fatalf("result = %v", out)
	}
	if res.CallID != "call_1" || res.Tool != ToolCreateQuote {
		t.Fatalf("result envelope = %+v", res)
	}

	q, err := repo.Quote(context.Background(), out["quoteId"].(string))
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if q.Status != recordx.QuoteDraft || q.Total != 549 || len(q.Items) != 2 {
		t.Fatalf("stored quote = %+v", q)
	}

	audit, err := repo.AuditLog(context.Background(), 10)
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit))
	}
	entry := audit[0]
	if entry.Action != recordx.AuditCreate || entry.Collection != recordx.CollectionQuotes ||
		entry.DocID != q.ID || entry.PerformedBy != "client_7" || entry.Source != recordx.AuditSourceAI {
		t.Fatalf("audit entry = %+v", entry)
	}

	if len(pub.events) != 1 || pub.events[0] != EventQuoteCreated {
		t.Fatalf("events = %v", pub.events)
	}
}

func TestCreateQuoteRejectsEmptyItems(t *testing.T) {
	t.Parallel()

	c, repo := newSeededCatalog(t)
	for _, args := range []string{`{"items":[]}`, `{"items":null}`, `{}`} {
		_, err := c.Execute(context.Background(), call(ToolCreateQuote, args))
		if !errors.Is(err, contractx.ErrSchemaViolation) {
			t.Fatalf("%s: expected ErrSchemaViolation, got %v", args, err)
		}
	}
	quotes, err := repo.Store().Query(context.Background(), recordx.CollectionQuotes, storex.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("quotes written = %d", len(quotes))
	}
}

func TestRequiredPropertiesAreNotNullable(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	spec, ok := c.Lookup(ToolCreateQuote)
	if !ok {
		t.Fatal("createQuote not registered")
	}
	items := spec.Input.Properties["items"]
	if items.Type != "array" || len(items.Types) != 0 {
		t.Fatalf("items type=%q types=%v", items.Type, items.Types)
	}
	if _, ok := c.Lookup("launchRocket"); ok {
		t.Fatal("unknown tool found")
	}
}

func TestCheckAvailabilityIsIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	args := `{"date":"` + testDate + `"}`

	first, err := c.Execute(context.Background(), call(ToolCheckAvailability, args))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := c.Execute(context.Background(), call(ToolCheckAvailability, args))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	a, b := resultMap(t, first), resultMap(t, second)
	if !reflect.DeepEqual(a["slots"], b["slots"]) {
		t.Fatalf("slots differ: %v vs %v", a["slots"], b["slots"])
	}
	slots := a["slots"].([]any)
	if len(slots) != 6 || slots[0] != "10:00" {
		t.Fatalf("slots = %v, want grid minus seeded 09:00", slots)
	}
	if a["available"] != true {
		t.Fatalf("available = %v", a["available"])
	}
}

func TestSearchKnowledgeBaseRanksTitleMatchFirst(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	res, err := c.Execute(context.Background(), call(ToolSearchKnowledgeBase, `{"query":"warranty"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := resultMap(t, res)
	hits := out["results"].([]any)
	if len(hits) != 1 {
		t.Fatalf("hits = %v, want only the warranty article", hits)
	}
	if title := hits[0].(map[string]any)["title"]; title != "Water Heater Warranty" {
		t.Fatalf("first hit = %v", title)
	}
}

func TestBookAppointmentConflictIsResultNotError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	c, repo := newSeededCatalog(t, WithPublisher(pub))
	args := `{"date":"` + testDate + `","time":"10:00","serviceType":"Leak repair","clientName":"Bob"}`

	first, err := c.Execute(context.Background(), call(ToolBookAppointment, args))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out := resultMap(t, first); out["success"] != true || out["bookingId"] != "slot_2025-03-14_1000" {
		t.Fatalf("first booking = %v", out)
	}

	second, err := c.Execute(context.Background(), call(ToolBookAppointment, args))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out := resultMap(t, second); out["success"] != false || out["message"] != "Slot already taken." {
		t.Fatalf("second booking = %v", out)
	}

	audit, _ := repo.AuditLog(context.Background(), 10)
	if len(audit) != 1 || audit[0].Collection != recordx.CollectionSchedule {
		t.Fatalf("audit = %+v, want one schedule entry", audit)
	}
	if len(pub.events) != 1 || pub.events[0] != EventBookingCreated {
		t.Fatalf("events = %v", pub.events)
	}
}

func TestUpdateScheduleWholeDay(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	res, err := c.Execute(context.Background(), call(ToolUpdateSchedule,
		`{"date":"2025-03-15","status":"holiday","reason":"Public holiday"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := resultMap(t, res)
	if updated := out["updatedSlots"].([]any); len(updated) != 7 {
		t.Fatalf("updatedSlots = %v", updated)
	}

	avail, err := c.Execute(context.Background(), call(ToolCheckAvailability, `{"date":"2025-03-15"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if a := resultMap(t, avail); a["available"] != false {
		t.Fatalf("availability after holiday = %v", a)
	}
}

func TestUpdateScheduleRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	err := c.Validate(call(ToolUpdateSchedule, `{"date":"2025-03-15","status":"vacation"}`))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestValidateRejectsUnknownToolAndBadArguments(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)

	if err := c.Validate(call("launchRocket", `{}`)); !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if err := c.Validate(call(ToolBookAppointment, `{"date":"tomorrow","time":"10:00","serviceType":"x"}`)); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for bad date, got %v", err)
	}
	if err := c.Validate(call(ToolCheckAvailability, `{}`)); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for missing date, got %v", err)
	}
	if err := c.Validate(call(ToolCheckAvailability, `{"date":`)); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for broken JSON, got %v", err)
	}
	if err := c.Validate(call(ToolListInvoices, ``)); err != nil {
		t.Fatalf("empty arguments should validate for listInvoices, got %v", err)
	}
}

func TestStoreFailureBecomesErrorResult(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t, func(s storex.Store) storex.Store { return queryFailingStore{s} })
	c, err := NewCatalog(repo)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	res, err := c.Execute(context.Background(), call(ToolListInvoices, `{"status":"overdue"}`))
	if err != nil {
		t.Fatalf("store failure must not be fatal, got %v", err)
	}
	if !strings.Contains(res.Error, contractx.ErrToolFailed.Error()) || res.Result != nil {
		t.Fatalf("result = %+v", res)
	}
	if payload := res.Payload(); payload["error"] == nil {
		t.Fatalf("payload = %v", payload)
	}
}

func TestPublisherFailureDoesNotFailMutation(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t, WithPublisher(&fakePublisher{err: errors.New("qstash down")}))
	res, err := c.Execute(context.Background(), call(ToolCreateQuote, `{"items":[{"description":"Valve","price":12.5}]}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out := resultMap(t, res); out["success"] != true {
		t.Fatalf("result = %v", out)
	}
}

func TestGetProductPricePartialMatch(t *testing.T) {
	t.Parallel()

	c, _ := newSeededCatalog(t)
	res, err := c.Execute(context.Background(), call(ToolGetProductPrice, `{"productName":"service"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := resultMap(t, res)
	if out["found"] != true || out["price"] != float64(99) {
		t.Fatalf("result = %v", out)
	}

	res, err = c.Execute(context.Background(), call(ToolGetProductPrice, `{"productName":"jacuzzi"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out := resultMap(t, res); out["found"] != false {
		t.Fatalf("result = %v", out)
	}
}

func TestRankArticles(t *testing.T) {
	t.Parallel()

	articles := []recordx.KnowledgeArticle{
		{Title: "Pilot", Content: "reset pilot light"},
		{Title: "Warranty", Content: "6 years tank"},
	}
	got := RankArticles(articles, "warranty", 3)
	if len(got) != 1 || got[0].Title != "Warranty" {
		t.Fatalf("RankArticles() = %+v", got)
	}
	if got := RankArticles(articles, "   ", 3); got != nil {
		t.Fatalf("blank query = %+v, want nil", got)
	}
}

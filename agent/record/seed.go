package record

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
)

// Seed writes the demo dataset of the Wilco Plumbing CRM. A collection that
// already holds any document is left untouched.
func Seed(ctx context.Context, r *Repository) error {
	today := r.Now().Format(DateLayout)

	data := []struct {
		collection string
		writes     []storex.Write
	}{
		{CollectionProducts, []storex.Write{
			{ID: "prod_1", Doc: storex.Doc{"name": "Service Call", "category": "Service", "price": "99.00"}},
			{ID: "prod_2", Doc: storex.Doc{"name": "Water Heater Install", "category": "Labor", "price": "450.00"}},
			{ID: "prod_3", Doc: storex.Doc{"name": "Copper Pipe (10ft)", "category": "Materials", "price": "25.50"}},
		}},
		{CollectionClients, []storex.Write{
			{ID: "client_1", Doc: storex.Doc{"name": "John Doe", "email": "john@example.com", "phone": "555-0101", "address": "456 Oak Ave"}},
			{ID: "client_2", Doc: storex.Doc{"name": "Sarah Smith", "email": "sarah@test.com", "phone": "555-0102", "address": "123 Maple St"}},
		}},
		{CollectionTeam, []storex.Write{
			{ID: "user_1", Doc: storex.Doc{"name": "Lukas Wilson", "role": "Owner", "email": "admin@wilco.com", "phone": "555-0001"}},
			{ID: "user_2", Doc: storex.Doc{"name": "Mike Plumber", "role": "Technician", "email": "mike@wilco.com", "phone": "555-0002"}},
		}},
		{CollectionKnowledge, []storex.Write{
			{ID: "k_1", Doc: storex.Doc{"title": "Water Heater Warranty", "content": "Standard warranty is 6 years on tank, 1 year on parts."}},
			{ID: "k_2", Doc: storex.Doc{"title": "Pilot Light Reset", "content": "Turn knob to Pilot, hold down for 60 seconds while lighting."}},
			{ID: "k_3", Doc: storex.Doc{"title": "Service Areas", "content": "We serve Downtown, West End, and North Shore."}},
		}},
		{CollectionInvoices, []storex.Write{
			{ID: "INV-1001", Doc: storex.Doc{"client": "Sarah Smith", "clientId": "client_2", "date": today, "amount": "450.00", "status": "Paid", "items": []any{}}},
		}},
		{CollectionSchedule, []storex.Write{
			{ID: "task_1", Doc: storex.Doc{"date": today, "time": "09:00", "title": "Install Water Heater", "address": "123 Maple St", "clientName": "Sarah Smith", "status": string(SlotBooked)}},
		}},
	}

	for _, d := range data {
		existing, err := r.store.Query(ctx, d.collection, storex.Query{Limit: 1})
		if err != nil {
			return fmt.Errorf("seed %s: %w", d.collection, err)
		}
		if len(existing) > 0 {
			log.Debug().Str("collection", d.collection).Msg("seed skipped, collection not empty")
			continue
		}
		if err := r.store.BatchWrite(ctx, d.collection, d.writes); err != nil {
			return fmt.Errorf("seed %s: %w", d.collection, err)
		}
		log.Info().Str("collection", d.collection).Int("documents", len(d.writes)).Msg("seeded collection")
	}
	return nil
}

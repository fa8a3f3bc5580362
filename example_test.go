package journey_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/schema"
)

// ExampleNew_memory runs a short playbook against in-memory stores.
func ExampleNew_memory() {
	defs, err := memory.NewFromPlaybook(
		domain.Playbook{ID: "onboarding", Name: "Onboarding"},
		domain.Item{ID: "welcome", Order: 0},
		domain.Item{ID: "profile", Order: 1, Kind: domain.KindTask, Required: true, Schema: schema.Schema{
			"name": schema.String(),
		}},
	)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := journey.New("", journey.WithDefinitions(defs))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	s := eng.Session("ana", "onboarding")

	res, _ := s.Start(ctx, "")
	fmt.Println(res.Progress.Status, res.Progress.CurrentIndex)

	res, _ = s.Next(ctx)
	fmt.Println(res.Outcome, res.Progress.CurrentIndex)

	res, _ = s.Next(ctx)
	fmt.Println(res.Outcome, res.Blocking)

	_, err = s.Respond(ctx, "profile", map[string]any{"age": 30})
	fmt.Println(err != nil)

	_, _ = s.Respond(ctx, "profile", map[string]any{"name": "Ana"})
	res, _ = s.Next(ctx)
	fmt.Println(res.Outcome, res.Progress.Status)

	// Output:
	// in_progress 0
	// applied 1
	// blocked [profile]
	// true
	// completed completed
}

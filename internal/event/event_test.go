package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phamqt/coursehub/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("progress.updated"),
						eventWithName("quiz.graded"),
					},
					subscribers: []subscriber{
						{
							name:        "notifier",
							subscribeTo: []string{"progress.updated"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("progress.updated")}, out.received["notifier"])
			},
		},

		"repeated events are delivered once each": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("progress.updated"),
						eventWithName("progress.updated"),
					},
					subscribers: []subscriber{
						{
							name:        "notifier",
							subscribeTo: []string{"progress.updated"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{
					eventWithName("progress.updated"),
					eventWithName("progress.updated"),
				}, out.received["notifier"])
			},
		},

		"an event fans out to every subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("enrollment.completed"),
					},
					subscribers: []subscriber{
						{
							name:        "notifier",
							subscribeTo: []string{"enrollment.completed"},
						},
						{
							name:        "leaderboard",
							subscribeTo: []string{"enrollment.completed"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("enrollment.completed")}, out.received["notifier"])
				assert.ElementsMatch(t, []event.Event{eventWithName("enrollment.completed")}, out.received["leaderboard"])
			},
		},

		"mixed events reach the right subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("progress.updated"),
						eventWithName("quiz.graded"),
						eventWithName("progress.updated"),
						eventWithName("enrollment.completed"),
					},
					subscribers: []subscriber{
						{
							name:        "leaderboard",
							subscribeTo: []string{"progress.updated"},
						},
						{
							name:        "notifier",
							subscribeTo: []string{"progress.updated", "enrollment.completed"},
						},
						{
							name:        "audit",
							subscribeTo: []string{"quiz.graded", "enrollment.completed"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{
					eventWithName("progress.updated"),
					eventWithName("progress.updated"),
				}, out.received["leaderboard"])
				assert.ElementsMatch(t, []event.Event{
					eventWithName("progress.updated"),
					eventWithName("progress.updated"),
					eventWithName("enrollment.completed"),
				}, out.received["notifier"])
				assert.ElementsMatch(t, []event.Event{
					eventWithName("quiz.graded"),
					eventWithName("enrollment.completed"),
				}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}

package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
)

// sendTimeout bounds a single provider call.
const sendTimeout = 15 * time.Second

type Payload struct {
	NotificationID string
	UserID         string
	Recipient      string
	Subject        string
	Body           string
	BodyHTML       string
	Category       models.Category
	Metadata       map[string]any
}

// Result is the outcome of one send attempt. Senders never return errors;
// a failed attempt is a Result with Success=false.
type Result struct {
	Success    bool           `json:"success"`
	MessageID  string         `json:"message_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Sender delivers payloads over one channel.
type Sender interface {
	Channel() models.Channel
	// IsAvailable is true when the provider credentials are configured.
	IsAvailable() bool
	ValidateRecipient(recipient string) bool
	Send(ctx context.Context, p Payload) Result
}

func notConfigured(ch models.Channel) Result {
	return Result{
		Success:  false,
		Error:    fmt.Sprintf("%s not configured", ch),
		Metadata: map[string]any{"simulated": true},
	}
}

func invalidRecipient(ch models.Channel, recipient string) Result {
	return Result{
		Success:  false,
		Error:    fmt.Sprintf("invalid %s recipient %q", ch, recipient),
		Metadata: map[string]any{"validation": true},
	}
}

func failed(provider string, err error) Result {
	return Result{
		Success:    false,
		ProviderID: provider,
		Error:      err.Error(),
		Metadata:   map[string]any{"provider": provider},
	}
}

// precheck applies the rules every sender shares before calling out.
func precheck(s Sender, p Payload) (Result, bool) {
	if !s.IsAvailable() {
		return notConfigured(s.Channel()), false
	}
	if !s.ValidateRecipient(p.Recipient) {
		return invalidRecipient(s.Channel(), p.Recipient), false
	}
	return Result{}, true
}

// Registry looks senders up by channel and paces each channel with its
// BatchPolicy.
type Registry struct {
	senders map[models.Channel]Sender
	pacers  map[models.Channel]*Pacer
}

func NewRegistry() *Registry {
	return &Registry{
		senders: map[models.Channel]Sender{},
		pacers:  map[models.Channel]*Pacer{},
	}
}

// Register adds s, replacing any sender already bound to its channel.
func (r *Registry) Register(s Sender, policy config.BatchPolicy) {
	r.senders[s.Channel()] = s
	r.pacers[s.Channel()] = NewPacer(policy)
}

func (r *Registry) Get(ch models.Channel) (Sender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}

// Pace waits for a send slot on ch. Every send through the registry's
// channels should call it first.
func (r *Registry) Pace(ctx context.Context, ch models.Channel) error {
	return r.pacers[ch].Wait(ctx)
}

// Availability reports which registered channels have credentials.
func (r *Registry) Availability() map[models.Channel]bool {
	out := make(map[models.Channel]bool, len(r.senders))
	for ch, s := range r.senders {
		out[ch] = s.IsAvailable()
	}
	return out
}

// SendBatch sends payloads over ch, sharing the channel's pacing with the
// delivery worker.
func (r *Registry) SendBatch(ctx context.Context, ch models.Channel, payloads []Payload) ([]Result, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %s", ch)
	}
	return sendPaced(ctx, s, r.pacers[ch], payloads), nil
}

// SendBatch sends payloads in windows of policy.Size, pausing policy.Delay
// between windows. Results keep input order. Payloads left unsent when ctx
// ends get a failed Result.
func SendBatch(ctx context.Context, s Sender, policy config.BatchPolicy, payloads []Payload) []Result {
	return sendPaced(ctx, s, NewPacer(policy), payloads)
}

func sendPaced(ctx context.Context, s Sender, p *Pacer, payloads []Payload) []Result {
	size := 1
	if p != nil {
		size = p.size
	}
	results := make([]Result, len(payloads))
	inflight := make(chan struct{}, size)
	var wg sync.WaitGroup

	for i := range payloads {
		if err := p.Wait(ctx); err != nil {
			for j := i; j < len(payloads); j++ {
				results[j] = Result{Error: err.Error()}
			}
			break
		}
		inflight <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-inflight }()
			results[i] = s.Send(ctx, payloads[i])
		}(i)
	}
	wg.Wait()
	return results
}

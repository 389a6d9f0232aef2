package llms

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeProvider counts calls and returns scripted results.
type fakeProvider struct {
	model   string
	calls   int
	results []fakeCall
}

type fakeCall struct {
	result *Result
	err    error
}

func (p *fakeProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	return p.next()
}

func (p *fakeProvider) GenerateStructured(ctx context.Context, messages []Message, cfg *StructuredOutputConfig) (*Result, error) {
	return p.next()
}

func (p *fakeProvider) next() (*Result, error) {
	if p.calls >= len(p.results) {
		return nil, fmt.Errorf("unexpected call %d", p.calls)
	}
	call := p.results[p.calls]
	p.calls++
	return call.result, call.err
}

func (p *fakeProvider) GetModelName() string    { return p.model }
func (p *fakeProvider) GetMaxTokens() int       { return 1024 }
func (p *fakeProvider) GetTemperature() float64 { return 0.0 }
func (p *fakeProvider) Close() error            { return nil }

func newTestGateway(t *testing.T, providers map[string]Provider, systemDefault string) *Gateway {
	t.Helper()
	reg := NewRegistry()
	for name, p := range providers {
		if err := reg.RegisterProvider(name, p); err != nil {
			t.Fatalf("RegisterProvider(%q) error = %v", name, err)
		}
	}
	return NewGateway(reg, systemDefault, nil)
}

func TestGateway_Resolve_Precedence(t *testing.T) {
	system := &fakeProvider{model: "system-model"}
	agent := &fakeProvider{model: "agent-model"}
	tenant := &fakeProvider{model: "tenant-model"}

	gw := newTestGateway(t, map[string]Provider{
		"system": system,
		"agent":  agent,
		"tenant": tenant,
	}, "system")

	tests := []struct {
		name           string
		tenantOverride string
		agentDefault   string
		wantModel      string
	}{
		{"system default only", "", "", "system-model"},
		{"agent default wins over system", "", "agent", "agent-model"},
		{"tenant override wins over agent", "tenant", "agent", "tenant-model"},
		{"tenant override wins over system", "tenant", "", "tenant-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := gw.Resolve(tt.tenantOverride, tt.agentDefault)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if provider.GetModelName() != tt.wantModel {
				t.Errorf("Resolve() model = %q, want %q", provider.GetModelName(), tt.wantModel)
			}
		})
	}
}

func TestGateway_Resolve_UnknownProvider(t *testing.T) {
	gw := newTestGateway(t, map[string]Provider{}, "system")

	if _, err := gw.Resolve("", ""); err == nil {
		t.Error("Resolve() should fail for unregistered provider")
	}
}

func TestGateway_Resolve_NoDefault(t *testing.T) {
	gw := newTestGateway(t, map[string]Provider{}, "")

	if _, err := gw.Resolve("", ""); err == nil {
		t.Error("Resolve() should fail when nothing is configured")
	}
}

func TestGateway_Generate_Success(t *testing.T) {
	provider := &fakeProvider{
		model: "m",
		results: []fakeCall{
			{result: &Result{Text: "hello"}},
		},
	}
	gw := newTestGateway(t, map[string]Provider{"m": provider}, "m")

	result, err := gw.Generate(context.Background(), provider, []Message{User("hi")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Generate() text = %q, want %q", result.Text, "hello")
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestGateway_Generate_RetriesOnceOnTransientFailure(t *testing.T) {
	transient := &GenerationError{Provider: "fake", Model: "m", Retryable: true, Err: errors.New("overloaded")}
	provider := &fakeProvider{
		model: "m",
		results: []fakeCall{
			{err: transient},
			{result: &Result{Text: "recovered"}},
		},
	}
	gw := newTestGateway(t, map[string]Provider{"m": provider}, "m")

	result, err := gw.Generate(context.Background(), provider, []Message{User("hi")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("Generate() text = %q, want %q", result.Text, "recovered")
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2", provider.calls)
	}
}

func TestGateway_Generate_ExhaustionIsFatal(t *testing.T) {
	transient := &GenerationError{Provider: "fake", Model: "m", Retryable: true, Err: errors.New("overloaded")}
	provider := &fakeProvider{
		model: "m",
		results: []fakeCall{
			{err: transient},
			{err: transient},
		},
	}
	gw := newTestGateway(t, map[string]Provider{"m": provider}, "m")

	_, err := gw.Generate(context.Background(), provider, []Message{User("hi")})
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Errorf("Generate() error = %v, want ErrGenerationExhausted", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want exactly 2 (one retry)", provider.calls)
	}
}

func TestGateway_Generate_NoRetryOnPermanentFailure(t *testing.T) {
	permanent := &GenerationError{Provider: "fake", Model: "m", Retryable: false, Err: errors.New("invalid api key")}
	provider := &fakeProvider{
		model: "m",
		results: []fakeCall{
			{err: permanent},
		},
	}
	gw := newTestGateway(t, map[string]Provider{"m": provider}, "m")

	_, err := gw.Generate(context.Background(), provider, []Message{User("hi")})
	if err == nil {
		t.Fatal("Generate() should fail")
	}
	if errors.Is(err, ErrGenerationExhausted) {
		t.Error("permanent failure should not be wrapped as exhaustion")
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", provider.calls)
	}
}

func TestGateway_Generate_NoRetryAfterCancellation(t *testing.T) {
	transient := &GenerationError{Provider: "fake", Model: "m", Retryable: true, Err: errors.New("timeout")}
	provider := &fakeProvider{
		model: "m",
		results: []fakeCall{
			{err: transient},
		},
	}
	gw := newTestGateway(t, map[string]Provider{"m": provider}, "m")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Generate(ctx, provider, []Message{User("hi")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable generation error", &GenerationError{Retryable: true}, true},
		{"permanent generation error", &GenerationError{Retryable: false}, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

package dispatch

import (
	"context"
	"testing"

	"github.com/tsarna/bugout/pkg/bugout/bus"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"go.uber.org/zap"
)

type noOpHandler struct {
	command.UnimplementedHandler
}

func (noOpHandler) HandleMakeMove(ctx context.Context, cmd command.MakeMove) error {
	return nil
}

func benchmarkRoundTrip(b *testing.B, provider *otel.Provider) {
	logger := zap.NewNop()
	builder := bus.NewEventBus().WithLogger(logger)
	if provider != nil {
		builder = builder.WithObservability(provider, provider)
	}
	eb, err := builder.Build()
	if err != nil {
		b.Fatalf("Build() returned error: %v", err)
	}
	if err := eb.Start(); err != nil {
		b.Fatalf("Start() returned error: %v", err)
	}
	defer eb.Stop()

	rb := NewRouter(eb).WithLogger(logger)
	if provider != nil {
		rb = rb.WithObservability(provider, provider)
	}
	r, err := rb.BuildCommandRouter(noOpHandler{}, command.KindMakeMove)
	if err != nil {
		b.Fatalf("BuildCommandRouter() returned error: %v", err)
	}
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		b.Fatalf("Start() returned error: %v", err)
	}
	defer r.Stop(ctx)

	p := NewPublisher(syncTransport{eb}, nil, logger)
	cmd := command.MakeMove{GameId: "g1", ReqId: "r1", Player: model.Black, Coord: &model.Coord{X: 3, Y: 3}}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := p.Publish(ctx, cmd); err != nil {
			b.Fatalf("Publish() returned error: %v", err)
		}
	}
}

func BenchmarkRoundTripNoObservability(b *testing.B) {
	benchmarkRoundTrip(b, nil)
}

func BenchmarkRoundTripWithOtel(b *testing.B) {
	benchmarkRoundTrip(b, otel.NewProvider("benchmark", "v1.0.0"))
}

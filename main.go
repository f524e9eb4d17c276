package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"messaging-core/internal/api"
	"messaging-core/internal/config"
	"messaging-core/internal/direct"
	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/ops"
	"messaging-core/internal/presence"
	"messaging-core/internal/rooms"
	"messaging-core/internal/socket"
)

// coreState composes the pieces the ops debug endpoint reports on.
type coreState struct {
	manager *socket.Manager
	tracker *presence.Tracker
}

func (s coreState) ConnectionState() string   { return s.manager.State().String() }
func (s coreState) RoomSizes() map[string]int { return s.tracker.RoomSizes() }

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	publisher := observability.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	observability.SetPublisher(publisher)
	defer publisher.Close()

	client := api.NewClient(cfg.APIBaseURL, cfg.Token, nil)
	me, err := client.CurrentUser(ctx)
	if err != nil {
		log.Fatalf("failed to resolve identity: %v", err)
	}

	manager := socket.NewManager(socket.Config{
		URL:   cfg.SocketURL,
		Token: cfg.Token,
		Reconnect: socket.ReconnectPolicy{
			InitialInterval: cfg.ReconnectInitial,
			MaxInterval:     cfg.ReconnectMax,
			MaxRetries:      cfg.ReconnectMaxRetries,
		},
	})
	if err := manager.Connect(ctx); err != nil {
		log.Fatalf("failed to connect channel: %v", err)
	}

	tracker := presence.NewTracker()
	log.Printf("messaging core up user=%s state=%s", me.Username, manager.State())

	if peerID := os.Getenv("PEER_ID"); peerID != "" {
		sync := direct.NewSync(direct.Config{
			Self:    me,
			PeerID:  peerID,
			Token:   cfg.Token,
			Channel: manager,
			Backend: client,
			Policy: direct.PollPolicy{
				Interval:    cfg.PollInterval,
				Jitter:      cfg.PollJitter,
				MaxFailures: cfg.PollMaxFailures,
			},
			OnUpdate: func(msgs []models.Message) {
				log.Printf("direct conversation peer=%s messages=%d", peerID, len(msgs))
			},
		})
		sync.Start(ctx)
		defer sync.Close()
	}

	if roomID := os.Getenv("ROOM_ID"); roomID != "" {
		session := rooms.NewSession(rooms.Config{
			RoomID:  roomID,
			Self:    me,
			Token:   cfg.Token,
			Channel: manager,
			Backend: client,
			Tracker: tracker,
			OnUpdate: func(msgs []models.Message) {
				log.Printf("room=%s messages=%d online=%d", roomID, len(msgs), tracker.Count(roomID))
			},
		})
		if err := session.Join(ctx); err != nil {
			log.Fatalf("failed to join room %s: %v", roomID, err)
		}
		defer session.Leave()
	}

	router := ops.NewRouter(coreState{manager: manager, tracker: tracker})
	go func() {
		if err := router.Run(cfg.OpsAddr); err != nil {
			log.Fatalf("ops server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	manager.Disconnect()
	log.Printf("messaging core stopped")
}

func initTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("messaging-core"),
			semconv.DeploymentEnvironment(cfg.Environment),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

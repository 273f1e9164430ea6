package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/client"
	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/connection"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/tracing/otelexport"
)

// app is everything a command needs to talk to one session.
type app struct {
	cfg       *config.Config
	client    *client.Client
	transport *backend.WSTransport
	exporter  *otelexport.Exporter
	closers   []func()
}

// loadConfig loads the config or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// effectiveSessionID applies --session-id over the config value.
func effectiveSessionID(cfg *config.Config) string {
	id := sessionID
	if id == "" {
		id = cfg.SessionID
	}
	return config.NormalizeSessionID(id)
}

// newApp wires transport, store, tracing and client from the config.
func newApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	a := &app{cfg: cfg}

	id := effectiveSessionID(cfg)
	if id == "" {
		id = connection.DefaultSessionID(time.Now())
	}

	if cfg.Telemetry.Enabled {
		exp, err := otelexport.New(ctx, otelexport.Config{
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Headers:        cfg.Telemetry.Headers,
			SessionID:      id,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			slog.Warn("telemetry disabled", "error", err)
		} else {
			exp.Install()
			a.exporter = exp
		}
	}

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.closers = append(a.closers, func() { sessions.Close() })

	events := bus.New()
	retry := backend.DefaultRetryConfig()
	retry.MaxRetries = cfg.Backend.DialRetries
	a.transport = backend.NewWSTransport(backend.Config{
		URL:            cfg.Backend.URL,
		Token:          cfg.Backend.Token,
		SessionID:      id,
		DialTimeout:    cfg.DialTimeout(),
		RequestTimeout: cfg.RequestTimeout(),
		RateLimit:      cfg.Backend.RateLimit,
		Burst:          cfg.Backend.Burst,
		Retry:          retry,
		OnEvent:        events.PublishFrame,
	})

	a.client, err = client.New(client.Options{
		SessionID: id,
		Transport: a.transport,
		Sessions:  sessions,
		Events:    events,
		Connection: connection.Config{
			PollInterval: cfg.PollInterval(),
			QRTimeout:    cfg.QRTimeout(),
			OnQR:         printQR,
		},
		PairingStorePath: cfg.Pairing.StorePath,
		PairingTTL:       cfg.CodeTTL(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// mustApp is newApp for commands: errors exit the process.
func mustApp(ctx context.Context) *app {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return a
}

// connect authenticates the session, printing the QR code when needed.
func (a *app) connect(ctx context.Context, pairingCode string) error {
	res, err := a.client.Connect(ctx, pairingCode)
	if err != nil {
		if res != nil && res.Message != "" {
			return fmt.Errorf("%s: %w", res.Message, err)
		}
		return err
	}
	fmt.Printf("Connected as %s (session %s)\n", res.PhoneNumber, res.SessionID)
	return nil
}

// mustConnect is connect for commands: errors exit the process.
func (a *app) mustConnect(ctx context.Context) {
	if err := a.connect(ctx, ""); err != nil {
		a.Close()
		fail(err)
	}
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.exporter.Shutdown(ctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}
}

func printQR(payload string) {
	fmt.Println("Scan this QR code with WhatsApp (Linked devices > Link a device):")
	if art, err := media.RenderQR(payload); err == nil {
		fmt.Println(art)
	}
	fmt.Printf("QR payload: %s\n", payload)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// fail prints err in the CLI's error format and exits.
func fail(err error) {
	switch {
	case errors.Is(err, errs.ErrNotConnected):
		fmt.Fprintf(os.Stderr, "Error: %s (run `walink status` to connect)\n", err)
	case errors.Is(err, errs.ErrTimeout):
		fmt.Fprintf(os.Stderr, "Error: %s (QR code was not scanned in time)\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

// fail closes the app before exiting with err.
func (a *app) fail(err error) {
	a.Close()
	fail(err)
}

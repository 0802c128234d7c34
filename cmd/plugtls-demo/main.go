// Command plugtls-demo drives a complete client/server handshake and
// payload exchange through the transport-security boundary, using the
// in-process loopback transport and a throwaway certificate authority.
//
// Usage:
//
//	plugtls-demo [flags]
//
// Flags:
//
//	-backend string      Backend to load from the registry (default "gotls")
//	-server-name string  Server name the client verifies (default "demo.local")
//	-payload string      Payload the client sends (default "ping")
//	-event-log string    File path for boundary event logging (CBOR format)
//	-verbose             Print boundary events to the console
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"time"

	"github.com/plugtls/plugtls-go/internal/testcerts"
	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/driver"
	"github.com/plugtls/plugtls-go/pkg/log"
	"github.com/plugtls/plugtls-go/pkg/loopback"
	"github.com/plugtls/plugtls-go/pkg/registry"

	_ "github.com/plugtls/plugtls-go/pkg/gotls" // default backend
)

var (
	backendName = flag.String("backend", registry.DefaultBackend, "Backend to load from the registry")
	serverName  = flag.String("server-name", "demo.local", "Server name the client verifies")
	payload     = flag.String("payload", "ping", "Payload the client sends")
	eventLog    = flag.String("event-log", "", "File path for boundary event logging (CBOR format)")
	verbose     = flag.Bool("verbose", false, "Print boundary events to the console")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		stdlog.Fatalf("plugtls-demo: %v", err)
	}
}

func run() error {
	sink, closeSink, err := buildSink()
	if err != nil {
		return err
	}
	defer closeSink()

	factory, err := registry.Load(*backendName)
	if err != nil {
		return err
	}
	defer factory.Release()
	fmt.Printf("backend: %s\n", factory.Name())

	material, err := testcerts.Generate(*serverName, *serverName)
	if err != nil {
		return err
	}

	serverPolicy, err := factory.CreatePolicy(sink)
	if err != nil {
		return fmt.Errorf("create server policy: %w", err)
	}
	defer serverPolicy.Release()
	if err := serverPolicy.SetCertChain(material.ChainPEM); err != nil {
		return fmt.Errorf("server chain: %w", err)
	}
	if err := serverPolicy.SetPrivateKey(material.KeyPEM, ""); err != nil {
		return fmt.Errorf("server key: %w", err)
	}

	clientPolicy, err := factory.CreatePolicy(sink)
	if err != nil {
		return fmt.Errorf("create client policy: %w", err)
	}
	defer clientPolicy.Release()
	if err := clientPolicy.SetCABundle(material.CAPEM); err != nil {
		return fmt.Errorf("client CA bundle: %w", err)
	}

	clientEnd, serverEnd := loopback.Pair()

	clientSession, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: *serverName,
		Send:       clientEnd.Send,
		Recv:       clientEnd.Recv,
		LogID:      "demo-client",
	})
	if err != nil {
		return fmt.Errorf("create client session: %w", err)
	}
	defer clientSession.Release()

	serverSession, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send:  serverEnd.Send,
		Recv:  serverEnd.Recv,
		LogID: "demo-server",
	})
	if err != nil {
		return fmt.Errorf("create server session: %w", err)
	}
	defer serverSession.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	received := make(chan []byte, 1)
	go func() {
		if err := driver.Handshake(ctx, serverSession); err != nil {
			serverErr <- fmt.Errorf("server handshake: %w", err)
			return
		}
		buf := make([]byte, len(*payload))
		if err := driver.ReadFull(ctx, serverSession, buf); err != nil {
			serverErr <- fmt.Errorf("server read: %w", err)
			return
		}
		received <- buf
		serverErr <- nil
	}()

	if err := driver.Handshake(ctx, clientSession); err != nil {
		return fmt.Errorf("client handshake: %w", err)
	}
	fmt.Println("handshake complete on both sides")

	if err := driver.WriteAll(ctx, clientSession, []byte(*payload)); err != nil {
		return fmt.Errorf("client write: %w", err)
	}
	if err := <-serverErr; err != nil {
		return err
	}
	fmt.Printf("server received: %q\n", <-received)
	return nil
}

// buildSink assembles the event sink from the -event-log and -verbose
// flags.
func buildSink() (log.Logger, func(), error) {
	var sinks []log.Logger
	closeSink := func() {}

	if *verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		sinks = append(sinks, log.NewSlogAdapter(slog.New(handler)))
	}
	if *eventLog != "" {
		fl, err := log.NewFileLogger(*eventLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		sinks = append(sinks, fl)
		closeSink = func() { _ = fl.Close() }
	}

	switch len(sinks) {
	case 0:
		return log.NoopLogger{}, closeSink, nil
	case 1:
		return sinks[0], closeSink, nil
	default:
		return log.NewMultiLogger(sinks...), closeSink, nil
	}
}

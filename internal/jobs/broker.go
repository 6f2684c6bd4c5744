package jobs

import (
	"errors"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrBrokerNotReady is returned when the embedded server does not accept
// connections within the startup timeout.
var ErrBrokerNotReady = errors.New("embedded NATS server not ready")

// BrokerConfig configures the in-process NATS server.
type BrokerConfig struct {
	// Host is the listen address for outside subscribers.
	Host string
	// Port is the client port; -1 picks a free one.
	Port int
	// StartTimeout bounds the wait for the server to accept connections.
	StartTimeout time.Duration
}

// Broker is a NATS server running inside the process, for deployments
// without an external broker. Job events published through Conn reach
// any client connected to ClientURL.
type Broker struct {
	server *natsserver.Server
	conn   *nats.Conn
	logger *zap.Logger
}

// StartBroker starts the server and opens an in-process connection to it.
func StartBroker(cfg BrokerConfig, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "ragd",
		Host:       cfg.Host,
		Port:       cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}
	ns.SetLoggerV2(natsLogger{logger.Sugar()}, false, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(cfg.StartTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%w after %s", ErrBrokerNotReady, cfg.StartTimeout)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("ragd"), nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to embedded NATS server: %w", err)
	}
	logger.Info("embedded NATS server started", zap.String("url", ns.ClientURL()))
	return &Broker{server: ns, conn: nc, logger: logger}, nil
}

// Conn is the in-process client connection. The Broker owns it.
func (b *Broker) Conn() *nats.Conn { return b.conn }

// ClientURL is where outside subscribers connect.
func (b *Broker) ClientURL() string { return b.server.ClientURL() }

// Close drains the connection, then stops the server.
func (b *Broker) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	b.server.Shutdown()
	b.server.WaitForShutdown()
	b.logger.Info("embedded NATS server stopped")
}

// natsLogger routes server logs through zap. Fatal messages are logged as
// errors so the server cannot exit the process.
type natsLogger struct {
	s *zap.SugaredLogger
}

func (l natsLogger) Noticef(format string, v ...any) { l.s.Infof(format, v...) }
func (l natsLogger) Warnf(format string, v ...any)   { l.s.Warnf(format, v...) }
func (l natsLogger) Fatalf(format string, v ...any)  { l.s.Errorf(format, v...) }
func (l natsLogger) Errorf(format string, v ...any)  { l.s.Errorf(format, v...) }
func (l natsLogger) Debugf(format string, v ...any)  { l.s.Debugf(format, v...) }
func (l natsLogger) Tracef(format string, v ...any)  { l.s.Debugf(format, v...) }

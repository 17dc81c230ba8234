// Package commsutil provides COMMS connection helpers, dispatch event subjects
// and the JSON payload codec.
package commsutil

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connect creates a COMMS connection to the given URL and logs connection lifecycle events.
func Connect(url, name string) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(10*time.Second),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(onDisconnect),
		comms.ReconnectHandler(onReconnect),
		comms.ClosedHandler(onClosed),
		comms.ErrorHandler(onAsyncError),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

func onDisconnect(_ *comms.Conn, err error) {
	slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
}

func onReconnect(nc *comms.Conn) {
	slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
}

func onClosed(_ *comms.Conn) {
	slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
}

// onAsyncError logs errors the client reports outside any call, such as a
// subscription falling behind or a permissions violation.
func onAsyncError(_ *comms.Conn, sub *comms.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	if errors.Is(err, comms.ErrSlowConsumer) {
		slog.Warn(fmt.Sprintf("%s - COMMS slow consumer on %s", logPrefix, subject))
		return
	}
	slog.Error(fmt.Sprintf("%s - COMMS async error on %q: %v", logPrefix, subject, err))
}

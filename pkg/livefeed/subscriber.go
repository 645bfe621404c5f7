package livefeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrMaxRetries = errors.New("livefeed: max retries reached")

type SubscribeOptions struct {
	// Host is host:port of the interpreter API.
	Host       string
	TLSEnabled bool

	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// ReadTimeout drops a connection that stayed silent this long.
	ReadTimeout time.Duration
}

func (o *SubscribeOptions) setDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = 2 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 60 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * pingInterval
	}
}

func (o SubscribeOptions) URL() url.URL {
	scheme := "ws"
	if o.TLSEnabled {
		scheme = "wss"
	}
	return url.URL{Scheme: scheme, Host: o.Host, Path: "/ws"}
}

// Subscribe connects to a live feed and calls handle for each reading until
// ctx is done. Lost connections are retried with exponential backoff; after
// MaxRetries consecutive failures it gives up with ErrMaxRetries.
func Subscribe(ctx context.Context, opts SubscribeOptions, handle func(types.MeterReading)) error {
	opts.setDefaults()
	u := opts.URL()
	log := logrus.WithFields(logrus.Fields{"component": "livefeed", "url": u.String()})

	retryCount := 0
	for {
		if retryCount > 0 {
			// Calculate retry delay with exponential backoff
			retryDelay := time.Duration(1<<(retryCount-1)) * opts.BaseRetryDelay
			if retryDelay > opts.MaxRetryDelay || retryDelay <= 0 {
				retryDelay = opts.MaxRetryDelay
			}
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, opts.MaxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		log.Info("Connecting")
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Connection failed")
			retryCount++
			if retryCount >= opts.MaxRetries {
				return fmt.Errorf("%w (%d): %w", ErrMaxRetries, opts.MaxRetries, err)
			}
			continue
		}

		log.Info("Connected! Accepting meter readings.")
		// Reset retry count on successful connection
		retryCount = 0

		handleConnection(ctx, c, opts.ReadTimeout, log, handle)
		c.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("Connection lost, will retry...")
		retryCount++
	}
}

// handleConnection reads readings until the connection breaks or ctx ends.
func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	readTimeout time.Duration,
	log *logrus.Entry,
	handle func(types.MeterReading),
) {
	done := make(chan struct{})

	// Set read deadline to detect dead connections
	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPingHandler(func(data string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.WithError(err).Warn("WebSocket error")
				} else {
					log.WithError(err).Debug("Connection closed")
				}
				return
			}

			// Reset read deadline on successful message
			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if reading := types.MeterReadingFromJsonBytes(message); reading != nil {
				handle(*reading)
			} else {
				log.Warnf("Failed to parse meter reading: %s", string(message))
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Info("Shutting down, closing connection...")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.WithError(err).Debug("Error sending close message")
		}

		// Wait for close confirmation or timeout
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

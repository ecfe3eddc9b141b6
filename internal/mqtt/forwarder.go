package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/spacestate/statusd/internal/actions"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	forwardQueueLen = 64
)

var errMissingServer = errors.New("mqtt server address is required")

// Config configures the MQTT forwarder.
type Config struct {
	Server      string
	TopicPrefix string
	ClientID    string
	Logger      *zap.Logger
}

// Forwarder publishes appended actions to an MQTT broker. Construction fails
// when the broker is unreachable (the process should not start silently
// degraded); after startup, publish failures are logged and never fail the
// originating write. Forward never blocks: actions pass through a bounded
// queue drained by a single worker goroutine.
type Forwarder struct {
	client paho.Client
	prefix string
	logger *zap.Logger
	queue  chan actions.Action
	done   chan struct{}
}

// NewForwarder connects to the broker and starts the publish worker.
func NewForwarder(cfg Config) (*Forwarder, error) {
	if cfg.Server == "" {
		return nil, errMissingServer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "statusd"
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)
	client := paho.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Server)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Server, err)
	}
	logger.Info("connected to mqtt broker", zap.String("server", cfg.Server))

	f := &Forwarder{
		client: client,
		prefix: cfg.TopicPrefix,
		logger: logger,
		queue:  make(chan actions.Action, forwardQueueLen),
		done:   make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// Forward enqueues an action for publishing. A full queue drops the action
// with a log line rather than stalling the appender.
func (f *Forwarder) Forward(a actions.Action) {
	select {
	case f.queue <- a:
	default:
		f.logger.Warn("mqtt forward queue full, dropping action",
			zap.Uint64("id", a.ID),
			zap.String("type", string(a.Type)))
	}
}

// Close stops the worker and disconnects from the broker.
func (f *Forwarder) Close() {
	close(f.queue)
	<-f.done
	f.client.Disconnect(250)
}

func (f *Forwarder) run() {
	defer close(f.done)
	for a := range f.queue {
		f.publish(a)
	}
}

func (f *Forwarder) publish(a actions.Action) {
	switch a.Type {
	case actions.TypeStatus:
		// raw state retained for dumb subscribers, full action alongside
		f.send(f.topic("status"), string(a.Status), true)
		f.sendJSON(f.topic("status/last"), a, true)
	case actions.TypeAnnouncement:
		f.sendJSON(f.topic("announcement/"+string(a.Method)), a, false)
	case actions.TypePresence:
		names := make([]string, 0, len(a.Users))
		for _, u := range a.Users {
			names = append(names, u.Name)
		}
		f.send(f.topic("presence/list"), strings.Join(names, ","), true)
	}
}

func (f *Forwarder) topic(suffix string) string {
	return f.prefix + suffix
}

func (f *Forwarder) send(topic, payload string, retained bool) {
	token := f.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		f.logger.Warn("mqtt publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		f.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (f *Forwarder) sendJSON(topic string, a actions.Action, retained bool) {
	encoded, err := json.Marshal(a)
	if err != nil {
		f.logger.Error("mqtt payload encode failed", zap.Error(err))
		return
	}
	f.send(topic, string(encoded), retained)
}

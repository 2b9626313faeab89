package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings for the operator's subscriber.
type Config struct {
	URL      string
	User     string
	Password string
}

// Handlers are the callbacks the caller wires up to act on each inbound
// event; the subscriber itself only does transport and unmarshalling, the
// same separation the teacher's Subscriber keeps from its k8s client calls.
type Handlers struct {
	OnRestartRequest func(ctx context.Context, event RestartRequestEvent) error
	OnSuspendRequest func(ctx context.Context, event SuspendRequestEvent) error
	OnResumeRequest  func(ctx context.Context, event ResumeRequestEvent) error
	OnRCONRequest    func(ctx context.Context, event RCONRequestEvent) error
}

// Subscriber subscribes to the ark.cluster.* subjects and dispatches to Handlers.
type Subscriber struct {
	conn         *nats.Conn
	handlers     Handlers
	controllerID string
}

// NewSubscriber connects to NATS and registers the given handlers.
func NewSubscriber(cfg Config, handlers Handlers, controllerID string) (*Subscriber, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("ark-operator"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Subscriber{conn: conn, handlers: handlers, controllerID: controllerID}, nil
}

// Start subscribes to every configured subject and blocks until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.handlers.OnRestartRequest != nil {
		if err := s.subscribe(ctx, SubjectRestartRequest, func(ctx context.Context, data []byte) error {
			var event RestartRequestEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("unmarshal RestartRequestEvent: %w", err)
			}
			return s.handlers.OnRestartRequest(ctx, event)
		}); err != nil {
			return err
		}
	}

	if s.handlers.OnSuspendRequest != nil {
		if err := s.subscribe(ctx, SubjectSuspendRequest, func(ctx context.Context, data []byte) error {
			var event SuspendRequestEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("unmarshal SuspendRequestEvent: %w", err)
			}
			return s.handlers.OnSuspendRequest(ctx, event)
		}); err != nil {
			return err
		}
	}

	if s.handlers.OnResumeRequest != nil {
		if err := s.subscribe(ctx, SubjectResumeRequest, func(ctx context.Context, data []byte) error {
			var event ResumeRequestEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("unmarshal ResumeRequestEvent: %w", err)
			}
			return s.handlers.OnResumeRequest(ctx, event)
		}); err != nil {
			return err
		}
	}

	if s.handlers.OnRCONRequest != nil {
		if err := s.subscribe(ctx, SubjectRCONRequest, func(ctx context.Context, data []byte) error {
			var event RCONRequestEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("unmarshal RCONRequestEvent: %w", err)
			}
			return s.handlers.OnRCONRequest(ctx, event)
		}); err != nil {
			return err
		}
	}

	if err := s.requestSync(); err != nil {
		log.Printf("warning: failed to request sync from API: %v", err)
	}

	<-ctx.Done()
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context, subject string, handle func(ctx context.Context, data []byte) error) error {
	_, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handle(ctx, msg.Data); err != nil {
			log.Printf("error handling event %s: %v", subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	log.Printf("subscribed to NATS subject: %s", subject)
	return nil
}

func (s *Subscriber) requestSync() error {
	event := ControllerSyncRequestEvent{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now(),
		ControllerID: s.controllerID,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(SubjectControllerSyncRequest, data)
}

// PublishClusterChanged publishes a ClusterChangedEvent, used by the
// reconciler and configuration watcher to announce restarts in progress.
func (s *Subscriber) PublishClusterChanged(event ClusterChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(SubjectClusterChanged, data)
}

// Close closes the NATS connection.
func (s *Subscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

const (
	connTimeout    = 10 * time.Second
	reconnTimeout  = time.Minute
	disconnTimeout = 250

	roundTopicTemplate = "%s/%s/rounds"
)

var (
	ErrPublishTimeout = errors.New("failed to publish due to timeout reached")
	ErrEmptyClientID  = errors.New("empty client ID")
)

// Publisher sends every round summary to an MQTT broker under
// <prefix>/<simulation-id>/rounds
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     zerolog.Logger
}

var _ ports.RoundRecorder = (*Publisher)(nil)

// NewPublisher connects to the configured broker
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.ClientID == "" {
		return nil, ErrEmptyClientID
	}
	log := logger.WithComponent("mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout).
		SetMaxReconnectInterval(reconnTimeout)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(timeoutOrDefault(cfg.Timeout)); !ok {
		return nil, fmt.Errorf("timeout reached while connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newPublisher(client, cfg), nil
}

func newPublisher(client mqtt.Client, cfg config.MQTTConfig) *Publisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "flsim"
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		timeout: timeoutOrDefault(cfg.Timeout),
		log:     logger.WithComponent("mqtt"),
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return connTimeout
	}
	return d
}

// Topic is where the rounds of a simulation are published
func (p *Publisher) Topic(summary models.RoundSummary) string {
	return fmt.Sprintf(roundTopicTemplate, p.prefix, summary.SimulationID)
}

func (p *Publisher) RecordRound(ctx context.Context, summary models.RoundSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal round summary: %w", err)
	}

	token := p.client.Publish(p.Topic(summary), p.qos, false, data)
	if ok := token.WaitTimeout(p.timeout); !ok {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish round %d: %w", summary.Round, err)
	}

	p.log.Debug().Int("round", summary.Round).Str("topic", p.Topic(summary)).Msg("Round published")
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.client.Disconnect(disconnTimeout)
		return nil
	}
}

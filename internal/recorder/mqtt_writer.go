package recorder

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"precision-land/internal/telemetry"
)

// MQTT parameters
const (
	mqttQoS            = 1
	mqttRetain         = false
	mqttPublishTimeout = 2 * time.Second
	jwtAlgorithm       = "RS256"
	jwtLifetime        = 24 * time.Hour
)

// MQTTConfig describes the broker and the device credentials.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	PrivateKeyPath string `yaml:"private_key"`
	Audience       string `yaml:"audience"`
	TopicPrefix    string `yaml:"topic_prefix"`
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTWriter publishes rows as JSON under <prefix>/<flight>/<table>.
type MQTTWriter struct {
	client mqttPublisher
	prefix string
}

// NewMQTTWriter wraps a connected client.
func NewMQTTWriter(client mqttPublisher, prefix string) *MQTTWriter {
	if prefix == "" {
		prefix = "/flights"
	}
	return &MQTTWriter{client: client, prefix: prefix}
}

func (w *MQTTWriter) publish(flightID, table string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/%s", w.prefix, flightID, table)
	tok := w.client.Publish(topic, mqttQoS, mqttRetain, payload)
	if !tok.WaitTimeout(mqttPublishTimeout) {
		return errors.Errorf("publish to %s timed out", topic)
	}
	return errors.WithMessagef(tok.Error(), "publish to %s", topic)
}

func (w *MQTTWriter) WriteSample(r telemetry.SampleRow) error {
	return w.publish(r.FlightID, r.TableName(), r)
}

func (w *MQTTWriter) WriteCommand(r telemetry.CommandRow) error {
	return w.publish(r.FlightID, r.TableName(), r)
}

func (w *MQTTWriter) WriteEvent(r telemetry.EventRow) error {
	return w.publish(r.FlightID, r.TableName(), r)
}

// signedPassword creates a JWT for brokers that authenticate devices with
// an RSA key.
func signedPassword(keyData []byte, audience string, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return "", errors.WithMessage(err, "parse private key")
	}
	token := jwt.NewWithClaims(jwt.GetSigningMethod(jwtAlgorithm), &jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(jwtLifetime).Unix(),
		Audience:  audience,
	})
	return token.SignedString(key)
}

// NewMQTTClient connects to the broker, authenticating with a JWT when a
// private key is configured.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetProtocolVersion(4) // MQTT 3.1.1

	if cfg.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		pass, err := signedPassword(keyData, cfg.Audience, time.Now())
		if err != nil {
			return nil, err
		}
		opts.SetPassword(pass)
	}

	client := mqtt.NewClient(opts)
	log.Printf("[MQTTWriter] connecting to %s", cfg.Broker)
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		return nil, errors.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.WithMessage(err, "mqtt connect")
	}
	return client, nil
}

// Package ingest feeds sensor data arriving over MQTT into the
// tracking pipeline.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/monitoring"
)

// Pipeline is the ingress surface of the tracking orchestrator.
type Pipeline interface {
	SubmitFrame(streamIndex int, timestampNanos int64, payload []byte)
	SubmitImu(timestampNanos int64, sample engine.ImuSample)
}

// imuMessage is the wire format on <prefix>/imu.
type imuMessage struct {
	TimestampNanos     int64   `json:"timestamp_ns"`
	AngularVelocity    vec3Msg `json:"angular_velocity"`
	LinearAcceleration vec3Msg `json:"linear_acceleration"`
}

type vec3Msg struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// frameMessage is the wire format on <prefix>/frame/<stream>. Data is
// base64 in the JSON encoding.
type frameMessage struct {
	TimestampNanos int64  `json:"timestamp_ns"`
	Data           []byte `json:"data"`
}

// Config for the MQTT subscriber.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	NumStreams  int
}

// Subscriber bridges MQTT sensor topics to the pipeline.
type Subscriber struct {
	cfg      Config
	pipeline Pipeline
	client   mqtt.Client

	imuErrors   int
	frameErrors int
}

// NewSubscriber builds a subscriber; Start connects it.
func NewSubscriber(cfg Config, pipeline Pipeline) *Subscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "fusiontrack-subscriber"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fusiontrack"
	}
	return &Subscriber{cfg: cfg, pipeline: pipeline}
}

// Start connects to the broker and subscribes to the IMU and frame
// topics.
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true)

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	monitoring.Logf("ingest: connected to MQTT broker at %s", s.cfg.Broker)

	imuTopic := s.cfg.TopicPrefix + "/imu"
	token := s.client.Subscribe(imuTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleImu(msg.Payload())
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", imuTopic, token.Error())
	}
	monitoring.Logf("ingest: subscribed to %s", imuTopic)

	frameTopic := s.cfg.TopicPrefix + "/frame/+"
	token = s.client.Subscribe(frameTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleFrame(msg.Topic(), msg.Payload())
	})
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", frameTopic, token.Error())
	}
	monitoring.Logf("ingest: subscribed to %s", frameTopic)

	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handleImu(payload []byte) {
	var msg imuMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.imuErrors++
		if s.imuErrors%100 == 1 {
			monitoring.Logf("ingest: imu unmarshal error: %v (%d so far)", err, s.imuErrors)
		}
		return
	}
	s.pipeline.SubmitImu(msg.TimestampNanos, engine.ImuSample{
		TimestampNanos:     msg.TimestampNanos,
		AngularVelocity:    geom.Vec3{X: msg.AngularVelocity.X, Y: msg.AngularVelocity.Y, Z: msg.AngularVelocity.Z},
		LinearAcceleration: geom.Vec3{X: msg.LinearAcceleration.X, Y: msg.LinearAcceleration.Y, Z: msg.LinearAcceleration.Z},
	})
}

func (s *Subscriber) handleFrame(topic string, payload []byte) {
	idx, ok := s.streamIndex(topic)
	if !ok {
		s.frameErrors++
		if s.frameErrors%100 == 1 {
			monitoring.Logf("ingest: unparseable frame topic %q (%d errors so far)", topic, s.frameErrors)
		}
		return
	}
	var msg frameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.frameErrors++
		if s.frameErrors%100 == 1 {
			monitoring.Logf("ingest: frame unmarshal error: %v (%d so far)", err, s.frameErrors)
		}
		return
	}
	s.pipeline.SubmitFrame(idx, msg.TimestampNanos, msg.Data)
}

// streamIndex extracts the trailing stream index from a frame topic
// like "fusiontrack/frame/2".
func (s *Subscriber) streamIndex(topic string) (int, bool) {
	last := topic[strings.LastIndex(topic, "/")+1:]
	idx, err := strconv.Atoi(last)
	if err != nil || idx < 0 {
		return 0, false
	}
	if s.cfg.NumStreams > 0 && idx >= s.cfg.NumStreams {
		return 0, false
	}
	return idx, true
}

package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

const (
	TopicPositionStatus = "rtls/position_status"
	TopicTrainingStatus = "training/status"
)

// ErrMalformed marks a payload that cannot be decoded.
var ErrMalformed = errors.New("ingest: malformed payload")

// Message is a decoded telemetry message.
type Message interface {
	DeviceMAC() string
}

// RSSIMessage is one anchor's reading of one beacon.
type RSSIMessage struct {
	MAC        string
	RSSI       float64
	AnchorID   int
	ReceivedAt time.Time
}

func (m RSSIMessage) DeviceMAC() string { return m.MAC }

// PositionStatusMessage reports the locator's lock state for a beacon.
type PositionStatusMessage struct {
	MAC        string
	Status     string
	Confidence float64
	ReceivedAt time.Time
}

func (m PositionStatusMessage) DeviceMAC() string { return m.MAC }

// Locked reports whether the locator holds a lock.
func (m PositionStatusMessage) Locked() bool {
	return strings.EqualFold(m.Status, "locked")
}

// TrainingStatusMessage reports training progress for a beacon.
type TrainingStatusMessage struct {
	MAC        string
	Progress   float64
	ReceivedAt time.Time
}

func (m TrainingStatusMessage) DeviceMAC() string { return m.MAC }

// Sink accepts decoded messages. Submit must not block.
type Sink interface {
	Submit(msg Message) bool
}

type rssiPayload struct {
	MAC  string          `json:"mac"`
	RSSI *float64        `json:"rssi"`
	ESP  json.RawMessage `json:"esp"`
}

type positionStatusPayload struct {
	MAC        string  `json:"mac"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
}

type trainingStatusPayload struct {
	MAC      string   `json:"mac"`
	Progress *float64 `json:"progress"`
}

// Topics returns the subscription topics for anchor ids plus the status topics.
func Topics(anchorIDs []int) []string {
	topics := make([]string, 0, len(anchorIDs)+2)
	for _, id := range anchorIDs {
		topics = append(topics, fmt.Sprintf("anchor%d/rssi", id))
	}
	return append(topics, TopicPositionStatus, TopicTrainingStatus)
}

// Decode routes a payload by topic. NATS-style subjects using dots are accepted.
func Decode(topic string, payload []byte, now time.Time) (Message, error) {
	topic = strings.ReplaceAll(strings.TrimSpace(topic), ".", "/")
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload on %s", ErrMalformed, topic)
	}
	switch {
	case topic == TopicPositionStatus:
		return decodePositionStatus(payload, now)
	case topic == TopicTrainingStatus:
		return decodeTrainingStatus(payload, now)
	case strings.HasSuffix(topic, "/rssi"):
		return decodeRSSI(topic, payload, now)
	default:
		return nil, fmt.Errorf("%w: unknown topic %s", ErrMalformed, topic)
	}
}

func decodeRSSI(topic string, payload []byte, now time.Time) (Message, error) {
	var p rssiPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mac := registry.NormalizeMAC(p.MAC)
	if mac == "" {
		return nil, fmt.Errorf("%w: missing mac", ErrMalformed)
	}
	if p.RSSI == nil || math.IsNaN(*p.RSSI) || math.IsInf(*p.RSSI, 0) {
		return nil, fmt.Errorf("%w: missing rssi", ErrMalformed)
	}
	anchor, ok := parseAnchorID(p.ESP)
	if !ok {
		anchor, ok = anchorFromTopic(topic)
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing anchor id", ErrMalformed)
	}
	return RSSIMessage{MAC: mac, RSSI: *p.RSSI, AnchorID: anchor, ReceivedAt: now}, nil
}

func decodePositionStatus(payload []byte, now time.Time) (Message, error) {
	var p positionStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mac := registry.NormalizeMAC(p.MAC)
	if mac == "" {
		return nil, fmt.Errorf("%w: missing mac", ErrMalformed)
	}
	return PositionStatusMessage{MAC: mac, Status: strings.TrimSpace(p.Status), Confidence: p.Confidence, ReceivedAt: now}, nil
}

func decodeTrainingStatus(payload []byte, now time.Time) (Message, error) {
	var p trainingStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mac := registry.NormalizeMAC(p.MAC)
	if mac == "" {
		return nil, fmt.Errorf("%w: missing mac", ErrMalformed)
	}
	if p.Progress == nil {
		return nil, fmt.Errorf("%w: missing progress", ErrMalformed)
	}
	return TrainingStatusMessage{MAC: mac, Progress: *p.Progress, ReceivedAt: now}, nil
}

// parseAnchorID accepts a number or numeric string, optionally prefixed like "esp32_3".
func parseAnchorID(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != math.Trunc(n) || n < 0 {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	return trailingInt(s)
}

func anchorFromTopic(topic string) (int, bool) {
	head, _, _ := strings.Cut(topic, "/")
	return trailingInt(head)
}

func trailingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

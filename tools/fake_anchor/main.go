package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"

	"beacon-guard/internal/ingest"
	"beacon-guard/internal/positioning/estimator"
	registry "beacon-guard/internal/registry/domain"
)

type anchorReading struct {
	MAC  string  `json:"mac"`
	RSSI float64 `json:"rssi"`
	ESP  int     `json:"esp"`
}

func main() {
	broker := pflag.String("broker", getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
	mac := pflag.String("mac", "aa:bb:cc:dd:ee:01", "beacon MAC address")
	x := pflag.Float64("x", 3.5, "beacon x in meters")
	y := pflag.Float64("y", 5, "beacon y in meters")
	anchorSpec := pflag.String("anchors", "1:0,0;2:7,0;3:0,10;4:7,10", "anchors as id:x,y separated by ;")
	txPower := pflag.Float64("tx-power", estimator.DefaultPathLoss.TxPower, "RSSI at one meter")
	exponent := pflag.Float64("exponent", estimator.DefaultPathLoss.Exponent, "path loss exponent")
	noise := pflag.Float64("noise", 2, "gaussian RSSI noise stddev in dBm")
	interval := pflag.Duration("interval", time.Second, "publish interval")
	count := pflag.Int("count", 0, "rounds to publish, 0 runs until interrupted")
	drift := pflag.Float64("drift", 0, "meters moved along x per round")
	locked := pflag.Bool("locked", false, "publish a locked position status before the first round")
	pflag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	anchors, err := parseAnchors(*anchorSpec)
	if err != nil {
		logger.Fatalf("anchors error: %v", err)
	}
	model := estimator.PathLoss{TxPower: *txPower, Exponent: *exponent}

	opts := paho.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("fake-anchor-%d", time.Now().UnixNano()))
	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatalf("mqtt connect error: %v", token.Error())
	}
	defer client.Disconnect(250)

	if *locked {
		publish(client, ingest.TopicPositionStatus, map[string]any{"mac": *mac, "status": "locked", "confidence": 1.0}, logger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pos := registry.Position{X: *x, Y: *y}
	for round := 1; *count == 0 || round <= *count; round++ {
		for _, a := range anchors {
			distance := math.Max(registry.Distance(pos, a.Position), 0.1)
			rssi := model.RSSI(distance) + *noise*rng.NormFloat64()
			publish(client, fmt.Sprintf("anchor%d/rssi", a.ID), anchorReading{MAC: *mac, RSSI: math.Round(rssi*10) / 10, ESP: a.ID}, logger)
		}
		logger.Printf("round %d published mac=%s x=%.2f y=%.2f", round, *mac, pos.X, pos.Y)
		pos.X += *drift

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func publish(client paho.Client, topic string, v any, logger *log.Logger) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Printf("encode error: %v", err)
		return
	}
	token := client.Publish(topic, 0, false, body)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		logger.Printf("publish error topic=%s err=%v", topic, token.Error())
	}
}

func parseAnchors(spec string) ([]estimator.Anchor, error) {
	var anchors []estimator.Anchor
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idPart, coords, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("anchor %q: missing id", part)
		}
		xPart, yPart, ok := strings.Cut(coords, ",")
		if !ok {
			return nil, fmt.Errorf("anchor %q: want x,y", part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idPart))
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", part, err)
		}
		ax, err := strconv.ParseFloat(strings.TrimSpace(xPart), 64)
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", part, err)
		}
		ay, err := strconv.ParseFloat(strings.TrimSpace(yPart), 64)
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", part, err)
		}
		anchors = append(anchors, estimator.Anchor{ID: id, Position: registry.Position{X: ax, Y: ay}})
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("no anchors")
	}
	return anchors, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

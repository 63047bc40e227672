// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_logger/internal/config"
	"github.com/relabs-tech/imu_logger/internal/imu"
	"github.com/relabs-tech/imu_logger/internal/orientation"
	"github.com/relabs-tech/imu_logger/internal/sink"
)

// RunConsoleMQTT subscribes to the pose and raw topics and prints every
// message until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	client, err := sink.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	subs := []struct {
		topic  string
		format func([]byte) (string, error)
	}{
		{cfg.TopicPose, formatPose},
		{cfg.TopicIMU, formatRaw},
	}

	for _, sub := range subs {
		format := sub.format
		topic := sub.topic
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			printMessage(consoleOut, topic, msg.Payload(), format)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

func printMessage(w io.Writer, topic string, payload []byte, format func([]byte) (string, error)) {
	line, err := format(payload)
	if err != nil {
		log.Printf("console: %s unmarshal error: %v", topic, err)
		return
	}
	fmt.Fprintln(w, line)
}

func formatPose(payload []byte) (string, error) {
	var p orientation.Pose
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	return fmt.Sprintf("[POSE]  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f", p.Roll, p.Pitch, p.Yaw), nil
}

func formatRaw(payload []byte) (string, error) {
	var f imu.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", err
	}
	return fmt.Sprintf("[IMU ]  ax=%6d ay=%6d az=%6d  gx=%6d gy=%6d gz=%6d",
		f.Ax, f.Ay, f.Az, f.Gx, f.Gy, f.Gz), nil
}

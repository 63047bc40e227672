// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

// DefaultQueueSize bounds the samples waiting to be published.
const DefaultQueueSize = 64

// Publisher is the part of mqtt.Client the MQTT sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials broker and returns a connected client.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to broker at %s", broker)
	return client, nil
}

// MQTT publishes the pose and the raw frame of each sample as retained
// JSON messages. Publishing happens on a worker goroutine; when the queue
// is full the sample is dropped and counted.
type MQTT struct {
	pub       Publisher
	topicPose string
	topicIMU  string

	queue     chan acquisition.Sample
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTT starts the publish worker. queueSize <= 0 selects
// DefaultQueueSize.
func NewMQTT(pub Publisher, topicPose, topicIMU string, queueSize int) *MQTT {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	m := &MQTT{
		pub:       pub,
		topicPose: topicPose,
		topicIMU:  topicIMU,
		queue:     make(chan acquisition.Sample, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// OnSample implements acquisition.Sink. It never blocks.
func (m *MQTT) OnSample(s acquisition.Sample) {
	select {
	case <-m.quit:
		return
	default:
	}

	select {
	case m.queue <- s:
	default:
		if m.dropped.Add(1)%100 == 1 {
			log.Printf("mqtt: publish queue full, %d samples dropped so far", m.dropped.Load())
		}
	}
}

func (m *MQTT) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case s := <-m.queue:
			m.publish(s)
		}
	}
}

func (m *MQTT) publish(s acquisition.Sample) {
	payload, err := json.Marshal(s.Pose)
	if err != nil {
		log.Printf("mqtt: json marshal error (pose): %v", err)
		return
	}
	if token := m.pub.Publish(m.topicPose, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("mqtt: publish error (%s): %v", m.topicPose, token.Error())
		return
	}

	payload, err = json.Marshal(s.Raw)
	if err != nil {
		log.Printf("mqtt: json marshal error (imu): %v", err)
		return
	}
	if token := m.pub.Publish(m.topicIMU, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("mqtt: publish error (%s): %v", m.topicIMU, token.Error())
		return
	}

	m.published.Add(1)
}

// Published returns how many samples were fully published.
func (m *MQTT) Published() uint64 { return m.published.Load() }

// Dropped returns how many samples were discarded because the queue was full.
func (m *MQTT) Dropped() uint64 { return m.dropped.Load() }

// Close stops the worker. Samples still queued are discarded.
func (m *MQTT) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

/*
Copyright 2023 Nike, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coresim

import (
	"strings"
	"sync"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// ErrQueueFull is raised by an all-or-error publish when any matching
// subscriber queue has no room
var ErrQueueFull = errors.New("Subscriber queue is full")

// Message is one published message
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription receives messages whose topic matches its filter. Queues
// are bounded - a subscriber that stops draining eventually drops (best
// effort) or blocks (all or error) deliveries.
type Subscription struct {
	broker   *Broker
	filter   string
	messages chan *Message
}

// Messages returns the subscription's delivery queue
func (s *Subscription) Messages() <-chan *Message {
	return s.messages
}

// Unsubscribe removes the subscription from its broker
func (s *Subscription) Unsubscribe() {
	s.broker.remove(s)
}

// Broker fans published messages out to matching subscriptions
type Broker struct {
	logger        logger.Logger
	queueDepth    int
	mu            sync.Mutex
	subscriptions []*Subscription
}

// NewBroker creates a broker whose subscription queues hold queueDepth messages
func NewBroker(parentLogger logger.Logger, queueDepth int) *Broker {
	if queueDepth <= 0 {
		queueDepth = 16
	}

	return &Broker{
		logger:     parentLogger.GetChild("pubsub"),
		queueDepth: queueDepth,
	}
}

// Subscribe registers a topic filter. Filters support the MQTT wildcards:
// + matches one level, a trailing # matches any remainder.
func (b *Broker) Subscribe(filter string) *Subscription {
	subscription := &Subscription{
		broker:   b,
		filter:   filter,
		messages: make(chan *Message, b.queueDepth),
	}

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, subscription)
	b.mu.Unlock()

	return subscription
}

// PublishBestEffort delivers to every matching subscription with room and
// silently skips full queues. Returns how many subscriptions received the
// message.
func (b *Broker) PublishBestEffort(topic string, payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0

	for _, subscription := range b.subscriptions {
		if !TopicMatches(subscription.filter, topic) {
			continue
		}

		select {
		case subscription.messages <- &Message{Topic: topic, Payload: payload}:
			delivered++
		default:
			b.logger.DebugWith("Dropping message for full subscriber queue",
				"topic", topic,
				"filter", subscription.filter)
		}
	}

	return delivered
}

// PublishAllOrError delivers to every matching subscription or to none.
// Capacity is checked for all targets before any delivery happens, under
// the same lock, so a concurrent publish can't make the check stale.
func (b *Broker) PublishAllOrError(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	matching := make([]*Subscription, 0, len(b.subscriptions))

	for _, subscription := range b.subscriptions {
		if !TopicMatches(subscription.filter, topic) {
			continue
		}

		if len(subscription.messages) == cap(subscription.messages) {
			return errors.Wrapf(ErrQueueFull,
				"Queue for filter %s has no room", subscription.filter)
		}

		matching = append(matching, subscription)
	}

	for _, subscription := range matching {
		subscription.messages <- &Message{Topic: topic, Payload: payload}
	}

	return nil
}

func (b *Broker) remove(subscription *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subscriptionIdx, candidate := range b.subscriptions {
		if candidate == subscription {
			b.subscriptions = append(b.subscriptions[:subscriptionIdx],
				b.subscriptions[subscriptionIdx+1:]...)
			return
		}
	}
}

// TopicMatches reports whether an MQTT-style topic filter matches a topic
func TopicMatches(filter string, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for levelIdx, filterLevel := range filterLevels {
		if filterLevel == "#" {
			return levelIdx == len(filterLevels)-1
		}

		if levelIdx >= len(topicLevels) {
			return false
		}

		if filterLevel != "+" && filterLevel != topicLevels[levelIdx] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

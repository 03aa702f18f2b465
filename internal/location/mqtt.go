package location

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// DefaultTopic matches every driver's location topic.
const DefaultTopic = "drivers/+/location"

const (
	connectTimeout = 10 * time.Second
	handleTimeout  = 5 * time.Second
)

// Subscriber feeds MQTT location messages into a Feed.
type Subscriber struct {
	client mqtt.Client
}

// Subscribe connects to broker and routes messages on topic to feed.
// The subscription is renewed on every reconnect.
func Subscribe(broker, clientID, topic string, feed *Feed) (*Subscriber, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := feed.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			log.WithError(err).WithField("topic", msg.Topic()).Warn("Dropping location message")
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(topic, 1, handler)
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				log.WithError(token.Error()).WithField("topic", topic).Error("MQTT subscribe failed")
				return
			}
			log.WithFields(log.Fields{"broker": broker, "topic": topic}).Info("Subscribed to driver locations")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Subscriber{client: client}, nil
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}

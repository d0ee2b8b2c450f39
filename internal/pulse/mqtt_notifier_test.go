package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mu           sync.Mutex
	connected    bool
	publishErr   error
	hang         bool
	messages     []published
	disconnected bool
}

func (c *fakeMQTTClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return completedToken(nil)
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if c.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	return completedToken(c.publishErr)
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func testMQTTConfig() MQTTConfig {
	cfg := DefaultMQTTConfig()
	cfg.BrokerURL = "tcp://broker.invalid:1883"
	cfg.Timeout = time.Second
	return cfg
}

func TestMQTTNotifier_PublishesAlertAndState(t *testing.T) {
	client := &fakeMQTTClient{}
	n := newMQTTNotifier(testMQTTConfig(), client, nil)
	n.Connect()

	alert := sampleAlert()
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(client.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "netpulse/alert/triggered" {
		t.Errorf("alert topic = %q", msg.topic)
	}
	if msg.qos != 1 || msg.retained {
		t.Errorf("alert qos = %d retained = %v, want 1 false", msg.qos, msg.retained)
	}
	var got Alert
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if got.ID != alert.ID || got.Device.ID != alert.Device.ID {
		t.Errorf("payload = %+v", got)
	}

	state := client.messages[1]
	if state.topic != "netpulse/device/"+alert.Device.ID+"/state" || string(state.payload) != "down" || !state.retained {
		t.Errorf("state message = %+v", state)
	}
}

func TestMQTTNotifier_ResolvedSetsUp(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	n := newMQTTNotifier(testMQTTConfig(), client, nil)

	alert := sampleAlert()
	alert.EventType = EventResolved
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if client.messages[0].topic != "netpulse/alert/resolved" {
		t.Errorf("topic = %q", client.messages[0].topic)
	}
	if string(client.messages[1].payload) != "up" {
		t.Errorf("state = %q, want up", client.messages[1].payload)
	}
}

func TestMQTTNotifier_Errors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		n := newMQTTNotifier(testMQTTConfig(), &fakeMQTTClient{}, nil)
		if err := n.Notify(context.Background(), sampleAlert()); !errors.Is(err, errMQTTNotConnected) {
			t.Errorf("err = %v, want errMQTTNotConnected", err)
		}
	})

	t.Run("publish error", func(t *testing.T) {
		boom := errors.New("broker rejected")
		client := &fakeMQTTClient{connected: true, publishErr: boom}
		n := newMQTTNotifier(testMQTTConfig(), client, nil)
		if err := n.Notify(context.Background(), sampleAlert()); !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
		if len(client.messages) != 1 {
			t.Errorf("published %d messages, want 1", len(client.messages))
		}
	})

	t.Run("context expires", func(t *testing.T) {
		client := &fakeMQTTClient{connected: true, hang: true}
		n := newMQTTNotifier(testMQTTConfig(), client, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := n.Notify(ctx, sampleAlert()); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestMQTTNotifier_CloseStopsRetryingClient(t *testing.T) {
	client := &fakeMQTTClient{}
	n := newMQTTNotifier(testMQTTConfig(), client, nil)
	n.Close()
	if !client.disconnected {
		t.Error("Close skipped Disconnect on a client that never connected")
	}
}

func TestMQTTNotifier_Close(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	n := newMQTTNotifier(testMQTTConfig(), client, nil)
	n.Close()
	if !client.disconnected {
		t.Error("Close did not disconnect")
	}
	if n.Type() != "mqtt" {
		t.Errorf("Type() = %q", n.Type())
	}
}

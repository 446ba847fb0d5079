package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-co/mqtt/server"
	"github.com/mochi-co/mqtt/server/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/mbusdconf/config"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
)

func TestPublishSendsPortSet(t *testing.T) {
	brokerURL, shutdown := startMockBroker(t)
	defer shutdown()

	subClient := connectClient(t, brokerURL, "subscriber")
	t.Cleanup(func() { subClient.Disconnect(250) })

	messages := make(chan mqtt.Message, 1)
	token := subClient.Subscribe("mbusd/config", 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case messages <- msg:
		default:
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		t.Fatal("subscribe timeout")
	}
	require.NoError(t, token.Error())

	publisher, err := NewMQTTPublisher(internalconfig.NotifyConfig{
		Enabled: true,
		Broker:  brokerURL,
		Topic:   "mbusd/config",
		QoS:     1,
	}, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer publisher.Close()
	require.True(t, Enabled(publisher))

	first := config.DefaultPort()
	first.Device = "/dev/ttyS0"
	second := config.DefaultPort()
	second.Name = "backup"
	second.Device = "/dev/ttyUSB0"
	second.Port = 1502
	second.Enable = false

	require.NoError(t, publisher.Publish(context.Background(), []config.PortSection{first, second}))

	select {
	case msg := <-messages:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload(), &decoded))
		require.EqualValues(t, 1, decoded["enabled"])
		ports := decoded["ports"].([]any)
		require.Len(t, ports, 2)
		require.Equal(t, "/dev/ttyS0", ports[0].(map[string]any)["device"])
		require.Equal(t, "backup", ports[1].(map[string]any)["name"])
		require.EqualValues(t, 1502, ports[1].(map[string]any)["port"])
	case <-time.After(5 * time.Second):
		t.Fatal("expected notification")
	}
}

func TestNewMQTTPublisherValidatesSettings(t *testing.T) {
	_, err := NewMQTTPublisher(internalconfig.NotifyConfig{Topic: "x"}, zerolog.Nop())
	require.Error(t, err)
	_, err = NewMQTTPublisher(internalconfig.NotifyConfig{Broker: "tcp://127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	p := Noop()
	require.NoError(t, p.Publish(context.Background(), nil))
	require.False(t, Enabled(p))
	require.False(t, Enabled(nil))
	p.Close()
}

func startMockBroker(t *testing.T) (string, func()) {
	t.Helper()

	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server := mqttserver.NewServer(nil)
	tcp := listeners.NewTCP("test", addr)

	if err := server.AddListener(tcp, nil); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("serve: %v", err)
	}

	if err := waitForBroker(addr, 5*time.Second); err != nil {
		t.Fatalf("wait for broker: %v", err)
	}

	return "tcp://" + addr, func() {
		_ = server.Close()
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForBroker(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("broker %s not reachable", addr)
}

func connectClient(t *testing.T, brokerURL, clientID string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		t.Fatalf("connect timeout")
	}
	if err := token.Error(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return client
}

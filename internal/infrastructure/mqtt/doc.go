// Package mqtt provides the broker transport for the relay node.
//
// The client is passive about its connection: it connects when
// told to, reports when the connection has gone, and never reconnects on
// its own. The session manager owns the reconnect policy.
//
// # Message Flow
//
//	broker → paho goroutine → bounded queue → Loop() → callback
//
// paho hands messages over on its own goroutines. They are copied into a
// bounded queue and only reach the registered callback when Loop runs, so
// control messages are processed on whichever goroutine pumps the client.
// A full queue drops new messages and counts them (see Dropped).
//
// # Availability
//
// When MQTTConfig.StatusTopic is set the client registers a retained Last
// Will and Testament and publishes a retained online payload after each
// successful connect. Close publishes a graceful offline payload before
// disconnecting.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetServer(cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
//	client.SetCallback(func(topic string, payload []byte) {
//	    handler.OnControlMessage(topic, string(payload))
//	})
//
//	if err := client.Connect(ctx, "esp32_mqtt"); err != nil {
//	    return err
//	}
//	if err := client.Subscribe(ctx, cfg.MQTT.ControlTopic); err != nil {
//	    return err
//	}
//
//	for client.Loop() {
//	    time.Sleep(50 * time.Millisecond)
//	}
package mqtt

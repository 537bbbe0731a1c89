// Package mqtt connects chargegate to the broker that carries commands to
// charge points.
//
// The broker is the only path from the gateway to the charging fleet. A
// protocol bridge on the other side speaks the charge point dialect and
// reports outcomes back on the result topics:
//
//	chargegate ── chargegate/command/{protocol}/{chargeBoxId} ──▶ bridge
//	chargegate ◀── chargegate/result/{protocol}/{taskId} ──────── bridge
//
// The client reconnects with exponential backoff, restores its
// subscriptions after a reconnect, and announces itself on
// chargegate/system/status (with a Last Will for unexpected drops).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic, err := mqtt.Topics{}.Command("ocpp1.6j", "CP-001")
//	if err != nil {
//	    return err
//	}
//	err = client.Publish(ctx, topic, payload, 1, false)
//
// Publish returns once the broker acknowledges the message. It never waits
// for the charge point itself.
package mqtt

// Package mqtt connects the HomematicIP bridge to an MQTT broker.
//
// The bridge publishes the current value of every bound characteristic as a
// retained message and accepts set/get requests on a parallel topic tree
// (see Topics). The client reconnects automatically, restores its
// subscriptions and maintains a retained status message backed by a last
// will.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllSets(), 1, handleSet)
//
// Security: enable TLS (cfg.Broker.TLS) and broker ACLs for anything beyond
// a local development broker; set requests switch physical loads.
package mqtt

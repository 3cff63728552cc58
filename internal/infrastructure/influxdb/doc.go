// Package influxdb records relay telemetry in InfluxDB v2.
//
// Three measurements are written, each tagged with the node name:
//
//	relay_pin           level=high|low          value=1|0
//	relay_connectivity  component=link|session  up=true|false
//	relay_control       topic=<control topic>   count=1,ignored=true
//
// The Client implements events.Sink, so wiring it to the event bus is
// enough to record link and session transitions and pin changes:
//
//	influx, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.Name)
//	if err != nil {
//	    return err
//	}
//	defer influx.Close()
//	bus.Subscribe("influxdb", influx)
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller.
package influxdb

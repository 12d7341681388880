package main

import (
	"flag"
	"log"
	"os"

	"github.com/robotalks/groupnet/pkg/groupnet"
	"github.com/robotalks/groupnet/pkg/radio/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/groupnet/"
)

func init() {
	if val := os.Getenv("GROUPNET_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Subscribe(mqtt.AirPrefix+"#", mqtt.Handler(func(topic string, payload []byte) {
		channel, dst, err := mqtt.ParseAirTopic(topic)
		if err != nil {
			log.Printf("%s: %v", topic, err)
			return
		}
		src, data, err := mqtt.DecodeFrame(payload)
		if err != nil {
			log.Printf("%s: bad frame: %v", topic, err)
			return
		}
		pkt, ok := groupnet.ParseFrame(src, data)
		if !ok {
			log.Printf("ch%d %s > %s: runt frame % x", channel, src, dst, data)
			return
		}
		if id, ok := groupnet.BeaconID(pkt.Payload); ok && pkt.Type == groupnet.TypeBeacon {
			log.Printf("ch%d %s > %s: BEACON group=%d", channel, src, dst, id)
			return
		}
		log.Printf("ch%d %s > %s: %s [%d] % x", channel, src, dst, pkt.Type, len(pkt.Payload), pkt.Payload)
	}))
	<-(chan struct{})(nil)
}

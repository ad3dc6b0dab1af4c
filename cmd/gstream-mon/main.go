// gstream-mon prints lines exchanged between bridges and their clients.
package main

import (
	"flag"
	"log"
	"strings"

	"github.com/robotalks/gstream/pkg/env"
	"github.com/robotalks/gstream/pkg/transport/mqtt"
)

func main() {
	env.SetupFlags()
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(env.Default().BrokerURL)
	if err != nil {
		log.Fatalln(err)
	}
	if err = q.Connect(); err != nil {
		log.Fatalln(err)
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/meta") {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		msg, err := mqtt.DecodeLine(payload)
		if err != nil {
			log.Printf("%s: bad line: %v", topic, err)
			return
		}
		log.Printf("%s: #%d %q", topic, msg.Seq, msg.Text)
	}))
	<-(chan struct{})(nil)
}

package main

import (
	"flag"
	"log"
	"strings"

	"github.com/robotalks/pulselink/pkg/env"
	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/lines/mqtt"
	"github.com/robotalks/pulselink/pkg/lines/redis"
	"github.com/robotalks/pulselink/pkg/link"
)

var (
	numLines = link.TotalLines
	names    string
)

func init() {
	env.SetupFlags()
	flag.IntVar(&numLines, "lines", numLines, "Number of lines to announce.")
	flag.StringVar(&names, "names", names, "Comma separated line names in channel order, overrides -lines.")
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	lineNames := mqtt.LineNames(numLines)
	if names != "" {
		lineNames = strings.Split(names, ",")
	}
	var announcer fx.Runnable
	switch conf.Backend {
	case env.BackendRedis:
		client := conf.RedisClient()
		defer client.Close()
		announcer = &redis.Announcer{Client: client, Cable: conf.Cable, Names: lineNames}
	default:
		q, err := mqtt.NewQueueFromURL(conf.MQTTBrokerURL, "pulselink-bus-"+conf.ID)
		if err != nil {
			log.Fatalln(err)
		}
		announcer = &mqtt.Announcer{Queue: q, Cable: conf.Cable, Names: lineNames}
	}
	if err := fx.NewRunner().HandleSignals().Go(announcer).Wait(); err != nil {
		log.Fatalln(err)
	}
}

package main

import (
	"flag"
	"log"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pulselink/pkg/env"
	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/lines/mqtt"
	"github.com/robotalks/pulselink/pkg/lines/redis"
	"github.com/robotalks/pulselink/pkg/monitor"
	"github.com/robotalks/pulselink/pkg/msgs"
)

var (
	listenAddr string
)

func init() {
	env.SetupFlags()
	flag.StringVar(&listenAddr, "listen", listenAddr, "Serve level events over websocket on this address.")
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	hub := monitor.NewHub()
	loop := fx.NewLoop().WithInterval(10 * time.Millisecond)
	loop.AddController(fx.PrLvControl, &monitor.Decoder{Sink: hub})
	if listenAddr != "" {
		loop.AddRunnable(&monitor.Server{Addr: listenAddr, Hub: hub})
	}

	if conf.Backend == env.BackendRedis {
		client := conf.RedisClient()
		defer client.Close()
		loop.AddRunnable(&redis.Watcher{Client: client, Cable: conf.Cable, Handler: func(msg *msgs.LineLevel) {
			glog.V(1).Infof("%s: %s", conf.Cable, msg)
			loop.PostMessage(msg)
		}})
	} else {
		q := watchMQTT(conf, loop)
		defer q.Close()
	}

	if err := fx.NewRunner().HandleSignals().Go(loop).Wait(); err != nil {
		log.Fatalln(err)
	}
}

func watchMQTT(conf *env.Config, loop *fx.Loop) *mqtt.Queue {
	q, err := mqtt.NewQueueFromURL(conf.MQTTBrokerURL, "pulselink-mon-"+conf.ID)
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.Connect(); err != nil {
		log.Fatalln(err)
	}

	q.Sub(mqtt.MetaTopic(conf.Cable, "+"), func(topic string, payload []byte) {
		glog.Infof("%s: %s", topic, payload)
	})
	q.Sub(mqtt.LevelTopic(conf.Cable, "+"), func(topic string, payload []byte) {
		msg, err := msgs.DecodeLineLevel(payload)
		if err != nil {
			glog.Warningf("%s: bad level: %v", topic, err)
			return
		}
		glog.V(1).Infof("%s: %s", topic, msg)
		loop.PostMessage(msg)
	})
	q.Sub(mqtt.SymbolTopic(conf.Cable), func(topic string, payload []byte) {
		batch, err := msgs.DecodeLineLevels(payload)
		if err != nil {
			glog.Warningf("%s: bad symbol: %v", topic, err)
			return
		}
		glog.V(1).Infof("%s: %s", topic, batch)
		for _, msg := range batch.Levels {
			loop.PostMessage(msg)
		}
	})
	return q
}

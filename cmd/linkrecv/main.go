package main

import (
	"flag"
	"log"

	"github.com/robotalks/pulselink/pkg/env"
	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/journal"
	"github.com/robotalks/pulselink/pkg/link"
)

var journalPath string

func init() {
	env.SetupFlags()
	flag.StringVar(&journalPath, "journal", journalPath, "Record received bytes in this SQLite database.")
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	ep := conf.MustNewEndpoint(link.RoleReceiver)
	defer ep.Close()
	r, err := ep.NewReceiver()
	if err != nil {
		log.Fatalln(err)
	}
	loop := r.Loop()
	if journalPath != "" {
		j, err := journal.Open(journalPath, conf.Variant)
		if err != nil {
			log.Fatalln(err)
		}
		defer j.Close()
		loop.Add(j)
	}
	if err := fx.NewRunner().HandleSignals().Go(loop).Wait(); err != nil {
		log.Fatalln(err)
	}
}

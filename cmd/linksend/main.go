package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/robotalks/pulselink/pkg/cli/sh"
	"github.com/robotalks/pulselink/pkg/env"
	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	ep := conf.MustNewEndpoint(link.RoleSender)
	defer ep.Close()
	sender, err := ep.NewSender()
	if err != nil {
		log.Fatalln(err)
	}

	text := strings.Join(flag.Args(), " ")
	if flag.NArg() == 0 {
		if text, err = sh.PromptLine("send> "); err != nil {
			log.Fatalln(err)
		}
	}

	runner := fx.NewRunner().HandleSignals()
	if err := sender.SendString(runner.Context, text); err != nil {
		log.Fatalln(err)
	}
	fmt.Println("transmission complete")
}

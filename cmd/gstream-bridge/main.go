package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/gstream/pkg/env"
	fx "github.com/robotalks/gstream/pkg/framework"
	"github.com/robotalks/gstream/pkg/transport/mqtt"
	"github.com/robotalks/gstream/pkg/transport/serial"
)

var description = "GRBL serial bridge"

func init() {
	env.SetupFlags()
	flag.StringVar(&description, "description", description, "Bridge description published in meta.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig()
	if conf.BridgeID == "" {
		conf.BridgeID = env.MachineID("gstream")
	}
	serialConf, err := conf.SerialConfig()
	if err != nil {
		glog.Exitf("%v", err)
	}
	port, err := serial.OpenLines(serialConf)
	if err != nil {
		glog.Exitf("%v", err)
	}
	bridge, err := mqtt.NewBridge(conf.BrokerURL, conf.BridgeID, port, mqtt.BridgeMeta{
		Description: description,
		Device:      serialConf.Device,
	})
	if err != nil {
		port.Close()
		glog.Exitf("%v", err)
	}
	glog.Infof("bridging %s as %s", serialConf.Device, conf.BridgeURL(conf.BridgeID))
	if err = fx.NewRunner().HandleSignals().Go(bridge).Wait(); err != nil {
		glog.Exitf("%v", err)
	}
}

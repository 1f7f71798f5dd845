package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mvolli/growatt-bridge/cmd"
)

func main() {
	app := &cli.App{
		Name:   "growatt-bridge",
		Usage:  "telemetry bridge for Growatt Noah 2000 and Neo 800 devices",
		Action: cmd.BridgeCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "connection-type",
				Usage:   "api, mqtt, modbus_tcp or modbus_rtu",
				EnvVars: []string{"CONNECTION_TYPE"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "device-type",
				Usage:   "noah_2000 or neo_800",
				EnvVars: []string{"DEVICE_TYPE"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "username",
				EnvVars: []string{"GROWATT_USERNAME"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "password",
				EnvVars: []string{"GROWATT_PASSWORD"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "device-id",
				Usage:   "plant id/name or device serial to pin discovery to",
				EnvVars: []string{"GROWATT_DEVICE_ID"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "modbus-host",
				EnvVars: []string{"MODBUS_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-broker",
				EnvVars: []string{"MQTT_BROKER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "publish-broker",
				Usage:   "MQTT broker to publish Home Assistant sensors to",
				EnvVars: []string{"PUBLISH_BROKER"},
				Value:   "",
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				EnvVars: []string{"SCAN_INTERVAL"},
				Value:   0,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sevlyar/go-daemon"

	"github.com/AndrewLester/ntpmon/pkg/ntp"
)

const defaultConfigPath = "/etc/ntpmon.conf"

func main() {
	var config string
	var query string
	var socket string
	var status bool
	var noDaemon bool
	var adjust bool
	flag.StringVar(&config, "config", defaultConfigPath, "Path to the ntpmon config file (ntp.conf style, or .yaml).")
	flag.StringVar(&query, "query", "", "Server to query once.")
	flag.StringVar(&query, "q", query, "Server to query once.")
	flag.StringVar(&socket, "socket", "", "Status socket path, overrides the config file.")
	flag.BoolVar(&status, "status", false, "Print the status of a running daemon.")
	flag.BoolVar(&noDaemon, "no-daemon", false, "Don't run ntpmon as a daemon. Measured offsets are logged with INFO=1 or DEBUG=1.")
	flag.BoolVar(&adjust, "adjust", false, "Correct the system clock from the first server.")
	flag.Parse()

	if query != "" {
		os.Exit(handleQueryCommand(query, queryPort()))
	}

	if status {
		if socket == "" {
			socket = socketFromConfig(config)
		}
		os.Exit(handleStatusCommand(socket))
	}

	cfg, err := ntp.LoadConfig(config)
	if err != nil {
		log.Fatal("Unable to load config: ", err)
	}
	if adjust {
		cfg.Adjust = true
	}
	if socket != "" {
		cfg.Socket = socket
	}

	if !noDaemon {
		d, err := daemonCtx.Reborn()
		if err != nil {
			if errors.Is(err, daemon.ErrWouldBlock) {
				killDaemon()
				fmt.Println("Successfully stopped ntpmon daemon.")
				return
			}
			log.Fatal("Unable to run: ", err)
		}
		if d != nil {
			fmt.Printf("Daemon process (%s, %d) started successfully.\n", daemonName, d.Pid)
			return
		}
		defer daemonCtx.Release()

		log.Print("- - - - - - - - - - - - - - -")
		log.Print("daemon started ", os.Args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func queryPort() int {
	port, err := strconv.Atoi(os.Getenv("NTP_PORT"))
	if err != nil || port <= 0 {
		return ntp.DefaultPort
	}
	return port
}

func socketFromConfig(path string) string {
	cfg, err := ntp.LoadConfig(path)
	if err != nil {
		return ntp.DefaultSocket
	}
	return cfg.Socket
}

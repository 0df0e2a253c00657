package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/AndrewLester/ntpmon/internal/monitor"
	"github.com/AndrewLester/ntpmon/pkg/ntp"
)

func handleQueryCommand(address string, port int) int {
	client, err := ntp.NewClient(address, port, monitor.DefaultPolicy().Timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}

	packet, err := client.Query(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	if !packet.Valid() {
		fmt.Printf("Error: %v\n", ntp.ErrInvalidPacket)
		return 1
	}

	fmt.Fprintln(os.Stdout, formatQueryResult(address, client.Addr(), packet.LocalClockOffset().Seconds(), packet.NetworkDelay().Seconds()))
	return 0
}

func formatQueryResult(address string, addr *net.UDPAddr, offset, delay float64) string {
	offsetString := strconv.FormatFloat(offset, 'G', 5, 64)
	if offset > 0 {
		offsetString = "+" + offsetString
	}
	delayString := strconv.FormatFloat(delay, 'G', 5, 64)
	return fmt.Sprint(offsetString, " +/- ", delayString, " ", address, " ", addr.IP.String())
}

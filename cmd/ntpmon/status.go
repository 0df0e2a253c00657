package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/AndrewLester/ntpmon/internal/rpc"
)

func handleStatusCommand(socket string) int {
	rows, err := rpc.Fetch(socket)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	printStatus(os.Stdout, rows, time.Now())
	return 0
}

func printStatus(w io.Writer, rows []rpc.MonitorStatus, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Address\tState\tOffset (ms)\tDelay (ms)\tStratum\tLast Update\tNext")
	for _, row := range rows {
		offset, delay, stratum := "-", "-", "-"
		if row.Synced {
			offset = strconv.FormatFloat(float64(row.Offset)/float64(time.Millisecond), 'G', 5, 64)
			delay = strconv.FormatFloat(float64(row.Delay)/float64(time.Millisecond), 'G', 5, 64)
			stratum = strconv.Itoa(row.Stratum)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Server, row.State, offset, delay, stratum, ago(row.LastRun, now), until(row.NextRun, now))
	}
	tw.Flush()
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s ago", now.Sub(t).Round(time.Second))
}

func until(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("in %s", t.Sub(now).Round(time.Second))
}

// Command prpc-client is an interactive terminal client for the bridge:
// it connects to the realtime broker, subscribes to one channel, prints
// every event and sends each stdin line as an RPC call.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pushrpc/prpc/client"
	"github.com/pushrpc/prpc/proto"
)

func main() {
	host := flag.String("host", "ws-eu.pusher.com", "realtime broker host")
	base := flag.String("base", "http://localhost:8080", "backend base URL")
	key := flag.String("key", "", "broker app key")
	route := flag.String("route", "chat", "route name to subscribe")
	id := flag.String("id", "42", "channel instance id")
	presence := flag.Bool("presence", false, "subscribe as a presence channel")
	event := flag.String("event", "send", "event name for outgoing calls")
	bind := flag.String("bind", "message", "comma-separated event names to print")
	flag.Parse()

	if *key == "" {
		slog.Error("Missing required -key flag")
		os.Exit(1)
	}

	c, err := client.New(*key, client.Options{
		Host:    *host,
		BaseURL: *base,
		Routes:  []client.RouteConfig{{Name: *route, Presence: *presence}},
	})
	if err != nil {
		panic(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		panic(err)
	}
	slog.Info("Connected", "session", c.SessionID())

	r, err := c.Route(*route)
	if err != nil {
		panic(err)
	}

	sub, err := r.Connect(*id, client.ConnectOptions{SubscribeOnMount: true})
	if err != nil {
		panic(err)
	}
	for _, name := range strings.Split(*bind, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		event := name
		sub.Bind(event, func(data json.RawMessage) {
			fmt.Printf("<< %s %s\n", event, data)
		})
	}
	slog.Info("Subscribed", "channel", sub.Channel().String())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		err := sub.Send(context.Background(), *event, map[string]any{"message": line}, func(resp *proto.Response) {
			if resp.Err != nil {
				fmt.Printf("!! %s\n", resp.Err)
				return
			}
			fmt.Printf(">> %s\n", resp.Result)
		})
		if err != nil {
			slog.Error("Call failed", "error", err.Error())
		}
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli"

	"github.com/uhyunpark/swapexec/pkg/api"
	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
)

var serverAddr string

var httpClient = &http.Client{Timeout: 10 * time.Second}

func endpoint(path string) string {
	return strings.TrimRight(serverAddr, "/") + path
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func getJSON(path string, out any) error {
	resp, err := httpClient.Get(endpoint(path))
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func submitOrder(c *cli.Context) error {
	args := c.Args()
	if len(args) < 4 {
		return errors.New("usage: submit <market|limit|sniper> <tokenIn> <tokenOut> <amount>")
	}

	req := api.ExecuteOrderRequest{
		Request: order.Request{
			Type:       order.Type(args[0]),
			TokenIn:    args[1],
			TokenOut:   args[2],
			Amount:     args[3],
			LimitPrice: c.String("limit-price"),
		},
		DelayMs: c.Duration("delay").Milliseconds(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(endpoint("/api/orders/execute"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	var out api.ExecuteOrderResponse
	if err := decodeResponse(resp, &out); err != nil {
		return err
	}

	fmt.Println(out.OrderID)
	if c.Bool("watch") {
		return watch(out.OrderID)
	}
	return nil
}

func printOrder(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("usage: get <orderId>")
	}
	var o order.Order
	if err := getJSON("/api/orders/"+url.PathEscape(id), &o); err != nil {
		return err
	}
	return printJSON(o)
}

func printJob(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("usage: job <orderId>")
	}
	var job map[string]any
	if err := getJSON("/api/jobs/"+url.PathEscape(id), &job); err != nil {
		return err
	}
	return printJSON(job)
}

func printStats(c *cli.Context) error {
	var stats api.QueueStats
	if err := getJSON("/api/queue/stats", &stats); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tState\tJobs\t")
	for _, s := range []queue.State{queue.StateWaiting, queue.StateDelayed, queue.StateActive, queue.StateCompleted, queue.StateFailed} {
		fmt.Fprintf(tw, "\t%s\t%d\t\n", s, stats.Counts[s])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Println("Venues:", strings.Join(stats.Venues, ", "))
	return nil
}

func watchOrder(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("usage: watch <orderId>")
	}
	return watch(id)
}

// watch prints lifecycle messages until the order is confirmed or failed.
func watch(id string) error {
	u, err := url.Parse(endpoint("/api/orders/" + url.PathEscape(id) + "/ws"))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		conn.Close()
	}()

	for {
		var m broadcast.Message
		if err := conn.ReadJSON(&m); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("stream closed: %s", ce.Text)
			}
			return err
		}

		details, _ := json.Marshal(m.Details)
		fmt.Printf("%s  %-20s %s\n", m.Timestamp.Format(time.RFC3339), m.Status, details)
		if m.Status.Terminal() {
			return nil
		}
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "swapctl"
	app.Usage = "submit and follow swap orders"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr",
			Value:       "http://localhost:3000",
			Usage:       "swapd API base URL",
			EnvVar:      "SWAPD_ADDR",
			Destination: &serverAddr,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "submit",
			Usage:     "submit an order",
			ArgsUsage: "<market|limit|sniper> <tokenIn> <tokenOut> <amount>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "limit-price", Usage: "trigger price for limit orders"},
				cli.DurationFlag{Name: "delay", Usage: "delay before a sniper order starts scanning"},
				cli.BoolFlag{Name: "watch, w", Usage: "stream status updates until the order finishes"},
			},
			Action: submitOrder,
		},
		{
			Name:      "get",
			Usage:     "print an order",
			ArgsUsage: "<orderId>",
			Action:    printOrder,
		},
		{
			Name:      "job",
			Usage:     "print the queue job for an order",
			ArgsUsage: "<orderId>",
			Action:    printJob,
		},
		{
			Name:      "watch",
			Usage:     "stream an order's status updates",
			ArgsUsage: "<orderId>",
			Action:    watchOrder,
		},
		{
			Name:   "stats",
			Usage:  "print queue counts",
			Action: printStats,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command cancelall is the emergency cleanup: it pulls every resting order
// for the session, independent of the agent process. Run it when the agent
// died without flattening its quotes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"market-agent-go/config"
	"market-agent-go/exchange"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	perOrder := flag.Bool("perOrder", false, "cancel orders one by one instead of the bulk endpoint")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	client := &exchange.Client{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		HTTPClient: exchange.NewDefaultHTTPClient(),
		Limiter:    exchange.NewTokenBucketLimiter(cfg.Exchange.RestRate, cfg.Exchange.RestBurst),
	}

	open, err := client.OpenOrders()
	if err != nil {
		log.Fatalf("query open orders: %v", err)
	}
	if len(open) == 0 {
		fmt.Println("no resting orders")
		return
	}
	fmt.Printf("found %d resting orders\n", len(open))

	if !*perOrder {
		if err := client.CancelAllOrders(); err != nil {
			log.Fatalf("bulk cancel: %v", err)
		}
		fmt.Println("bulk cancel submitted")
		return
	}

	failed := 0
	for _, o := range open {
		if err := client.CancelOrder(o.OrderID); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "cancel %s (%s %s %.0f @ %.2f): %v\n",
				o.OrderID, o.Ticker, o.Action, o.Quantity, o.Price, err)
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d cancels failed", failed, len(open))
	}
	fmt.Printf("cancelled %d orders\n", len(open))
}

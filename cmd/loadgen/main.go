// Command loadgen drives internal/gatewaystub.Gateway with synthetic
// order flow against a running BalanceCore/MatchingCore pair, standing
// in for the out-of-scope HTTP/WebSocket gateway's traffic (spec §1
// Non-goals).
//
// Same submit/cancel/book/demo subcommands as a plain HTTP CLI client,
// rebuilt on cobra+pflag and pointed at a gatewaystub.Gateway instead
// of posting raw JSON straight at a single server.
package main

import (
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/spotex/matchcore/internal/gatewaystub"
	"github.com/spotex/matchcore/internal/orders"
)

// httpSubmitter implements gatewaystub.Submitter by forwarding orders
// to BalanceCore's inbound queue (its POST /v1/orders) and forwarding
// cancel/reduce/move straight to MatchingCore, mirroring the live path
// wired in cmd/balanceservice and cmd/matchingservice.
//
// gatewaystub.Submitter's Cancel/Reduce/Move methods carry no user id
// (spec's gateway boundary only needs symbol+order id to address a
// resting order), but MatchingCore's HTTP handlers require one to
// authorize the command, so this adapter remembers which user placed
// each order id it has seen.
type httpSubmitter struct {
	balance  *resty.Client
	matching *resty.Client

	mu         sync.Mutex
	orderUsers map[uint64]uint64
}

func newHTTPSubmitter(balanceURL, matchingURL string) *httpSubmitter {
	return &httpSubmitter{
		balance:    resty.New().SetBaseURL(balanceURL),
		matching:   resty.New().SetBaseURL(matchingURL),
		orderUsers: make(map[uint64]uint64),
	}
}

func (h *httpSubmitter) SubmitOrder(o *orders.Order) error {
	h.mu.Lock()
	h.orderUsers[o.OrderID] = o.UserID
	h.mu.Unlock()

	body := map[string]interface{}{
		"order_id": o.OrderID, "user_id": o.UserID, "symbol_id": o.SymbolID,
		"side": uint8(o.Side), "order_type": uint8(o.Type), "tif": uint8(o.TIF),
		"price": o.Price, "qty": o.Qty, "ingested_at_ns": o.IngestedAtNs,
		"client_id": o.ClientID,
	}
	resp, err := h.balance.R().SetBody(body).Post("/v1/orders")
	return checkResty(resp, err)
}

func (h *httpSubmitter) SubmitCancel(symbolID uint32, orderID uint64) error {
	body := map[string]interface{}{
		"symbol_id": symbolID, "order_id": orderID, "user_id": h.userFor(orderID),
	}
	resp, err := h.matching.R().SetBody(body).Post("/v1/orders/cancel")
	return checkResty(resp, err)
}

func (h *httpSubmitter) SubmitReduce(symbolID uint32, orderID uint64, delta uint64) error {
	body := map[string]interface{}{
		"symbol_id": symbolID, "order_id": orderID, "user_id": h.userFor(orderID), "delta": delta,
	}
	resp, err := h.matching.R().SetBody(body).Post("/v1/orders/reduce")
	return checkResty(resp, err)
}

func (h *httpSubmitter) SubmitMove(symbolID uint32, orderID uint64, newPrice uint64) error {
	body := map[string]interface{}{
		"symbol_id": symbolID, "order_id": orderID, "user_id": h.userFor(orderID), "new_price": newPrice,
	}
	resp, err := h.matching.R().SetBody(body).Post("/v1/orders/move")
	return checkResty(resp, err)
}

func (h *httpSubmitter) userFor(orderID uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.orderUsers[orderID]
}

func checkResty(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), resp.String())
	}
	return nil
}

// staticRegistry is the minimal gatewaystub.Registry this CLI needs:
// one symbol known in advance, every asset it touches known, every
// account active. A real gateway would resolve these against the
// out-of-scope configuration/account store.
type staticRegistry struct {
	info gatewaystub.SymbolInfo
}

func (r staticRegistry) Symbol(symbolID uint32) (gatewaystub.SymbolInfo, bool) {
	if symbolID != r.info.SymbolID {
		return gatewaystub.SymbolInfo{}, false
	}
	return r.info, true
}
func (r staticRegistry) AssetKnown(assetID uint32) bool {
	return assetID == r.info.BaseAsset || assetID == r.info.QuoteAsset
}
func (r staticRegistry) AccountActive(userID uint64) bool { return true }

type options struct {
	balanceURL  string
	matchingURL string
	symbolID    uint32
	baseAsset   uint32
	quoteAsset  uint32
	priceScale  int
	qtyScale    int
	nodeID      int64
}

func (o options) buildGateway() (*gatewaystub.Gateway, *httpSubmitter, error) {
	ids, err := gatewaystub.NewIDGenerator(o.nodeID)
	if err != nil {
		return nil, nil, err
	}
	reg := staticRegistry{info: gatewaystub.SymbolInfo{
		SymbolID: o.symbolID, BaseAsset: o.baseAsset, QuoteAsset: o.quoteAsset,
		PriceScale: o.priceScale, QtyScale: o.qtyScale,
	}}
	risk := gatewaystub.NewRiskChecker(gatewaystub.DefaultRiskConfig())
	sub := newHTTPSubmitter(o.balanceURL, o.matchingURL)
	return gatewaystub.NewGateway(reg, risk, ids, sub), sub, nil
}

func scale(decimal string, places int) uint64 {
	f, _, err := big.ParseFloat(decimal, 10, 64, big.ToNearestEven)
	if err != nil {
		return 0
	}
	mul := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil))
	f.Mul(f, mul)
	i, _ := f.Int(nil)
	return i.Uint64()
}

func parseSide(s string) orders.Side {
	if s == "sell" {
		return orders.SideSell
	}
	return orders.SideBuy
}

func parseType(s string) orders.Type {
	if s == "market" {
		return orders.TypeMarket
	}
	return orders.TypeLimit
}

func printJSON(v interface{}) {
	fmt.Printf("%+v\n", v)
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic order flow through the gateway boundary",
	}
	root.PersistentFlags().StringVar(&opts.balanceURL, "balance-url", "http://127.0.0.1:8081", "BalanceCore base URL")
	root.PersistentFlags().StringVar(&opts.matchingURL, "matching-url", "http://127.0.0.1:8082", "MatchingCore base URL")
	root.PersistentFlags().Uint32Var(&opts.symbolID, "symbol-id", 1, "symbol id to trade")
	root.PersistentFlags().Uint32Var(&opts.baseAsset, "base-asset", 1, "base asset id")
	root.PersistentFlags().Uint32Var(&opts.quoteAsset, "quote-asset", 2, "quote asset id")
	root.PersistentFlags().IntVar(&opts.priceScale, "price-scale", 2, "price decimal scale")
	root.PersistentFlags().IntVar(&opts.qtyScale, "qty-scale", 8, "quantity decimal scale")
	root.PersistentFlags().Int64Var(&opts.nodeID, "node-id", 9, "snowflake node id for minted order ids")

	root.AddCommand(submitCmd(&opts), cancelCmd(&opts), reduceCmd(&opts), moveCmd(&opts), bookCmd(&opts), demoCmd(&opts), runCmd(&opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func submitCmd(opts *options) *cobra.Command {
	var userID uint64
	var side, orderType, tif, price string
	var qty string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new order through the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			o := &orders.Order{
				UserID: userID, SymbolID: opts.symbolID,
				Side: parseSide(side), Type: parseType(orderType),
				Price: scale(price, opts.priceScale), Qty: scale(qty, opts.qtyScale),
			}
			if tif == "ioc" {
				o.TIF = orders.TIFIOC
			}
			if err := gw.PlaceOrder(o); err != nil {
				return err
			}
			fmt.Printf("submitted order %d (client id %s)\n", o.OrderID, o.ClientID)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&userID, "user-id", 1, "submitting user id")
	cmd.Flags().StringVar(&side, "side", "buy", "buy|sell")
	cmd.Flags().StringVar(&orderType, "type", "limit", "limit|market")
	cmd.Flags().StringVar(&tif, "tif", "gtc", "gtc|ioc")
	cmd.Flags().StringVar(&price, "price", "100.00", "limit price, decimal string")
	cmd.Flags().StringVar(&qty, "qty", "1.0", "quantity, decimal string")
	return cmd
}

func cancelCmd(opts *options) *cobra.Command {
	var orderID uint64
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a resting order",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			return gw.CancelOrder(opts.symbolID, orderID)
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "order id to cancel")
	return cmd
}

func reduceCmd(opts *options) *cobra.Command {
	var orderID uint64
	var delta string
	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Reduce a resting order's remaining quantity",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			return gw.ReduceOrder(opts.symbolID, orderID, scale(delta, opts.qtyScale))
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "order id to reduce")
	cmd.Flags().StringVar(&delta, "delta", "1.0", "quantity to remove, decimal string")
	return cmd
}

func moveCmd(opts *options) *cobra.Command {
	var orderID uint64
	var newPrice string
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Re-price a resting order, losing queue priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			return gw.MoveOrder(opts.symbolID, orderID, scale(newPrice, opts.priceScale))
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "order id to move")
	cmd.Flags().StringVar(&newPrice, "new-price", "100.00", "new limit price, decimal string")
	return cmd
}

func bookCmd(opts *options) *cobra.Command {
	var levels int
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Print current order book depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := resty.New().SetBaseURL(opts.matchingURL)
			resp, err := c.R().Get(fmt.Sprintf("/v1/book/%d?levels=%d", opts.symbolID, levels))
			if err := checkResty(resp, err); err != nil {
				return err
			}
			printJSON(resp.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&levels, "levels", 5, "number of price levels")
	return cmd
}

// demoCmd walks through a scripted flow: quote a two-sided book, then
// cross it with a market order.
func demoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted book-building and crossing demonstration",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			mm := []struct {
				side, price, qty string
			}{
				{"buy", "149.00", "1.0"}, {"buy", "148.50", "2.0"}, {"buy", "148.00", "3.0"},
				{"sell", "151.00", "1.0"}, {"sell", "151.50", "2.0"}, {"sell", "152.00", "3.0"},
			}
			for _, o := range mm {
				order := &orders.Order{
					UserID: 1, SymbolID: opts.symbolID, Side: parseSide(o.side), Type: orders.TypeLimit,
					Price: scale(o.price, opts.priceScale), Qty: scale(o.qty, opts.qtyScale),
				}
				if err := gw.PlaceOrder(order); err != nil {
					fmt.Printf("market maker order rejected: %v\n", err)
					continue
				}
				fmt.Printf("posted %s %s @ %s -> order %d\n", o.side, o.qty, o.price, order.OrderID)
			}
			taker := &orders.Order{
				UserID: 2, SymbolID: opts.symbolID, Side: orders.SideBuy, Type: orders.TypeMarket,
				Qty: scale("1.5", opts.qtyScale),
			}
			if err := gw.PlaceOrder(taker); err != nil {
				return fmt.Errorf("taker order rejected: %w", err)
			}
			fmt.Printf("taker market buy -> order %d\n", taker.OrderID)
			return nil
		},
	}
}

// runCmd fires a continuous stream of random limit orders around a
// fixed reference price, for soak/throughput testing.
func runCmd(opts *options) *cobra.Command {
	var rate int
	var duration time.Duration
	var users int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate continuous random order flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := opts.buildGateway()
			if err != nil {
				return err
			}
			interval := time.Second / time.Duration(rate)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			deadline := time.Now().Add(duration)
			rng := rand.New(rand.NewSource(1))
			var submitted, rejected int

			for time.Now().Before(deadline) {
				<-ticker.C
				side := orders.SideBuy
				if rng.Intn(2) == 0 {
					side = orders.SideSell
				}
				refPrice := 15000 + rng.Int63n(200) - 100
				o := &orders.Order{
					UserID:   uint64(1 + rng.Intn(users)),
					SymbolID: opts.symbolID,
					Side:     side,
					Type:     orders.TypeLimit,
					Price:    uint64(refPrice),
					Qty:      uint64(1 + rng.Intn(500)),
				}
				if err := gw.PlaceOrder(o); err != nil {
					rejected++
					continue
				}
				submitted++
			}
			fmt.Printf("done: %d submitted, %d rejected\n", submitted, rejected)
			return nil
		},
	}
	cmd.Flags().IntVar(&rate, "rate", 10, "orders per second")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "how long to run")
	cmd.Flags().IntVar(&users, "users", 20, "number of distinct synthetic user ids")
	return cmd
}

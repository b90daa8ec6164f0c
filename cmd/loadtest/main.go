// Command loadtest нагружает HTTP API checkout конкурентными оплатами и
// пополнениями и проверяет, что остаток SKU уменьшился ровно на оплаченное.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type loadMode string

const (
	modeCheckout loadMode = "checkout"
	modeRecharge loadMode = "recharge"
	modeMixed    loadMode = "mixed"
)

const (
	callCreateOrder = "create_order"
	callRecharge    = "recharge"
	callProducts    = "products"

	productsPageLimit = 100
)

type config struct {
	baseURL        string
	total          int
	duration       time.Duration
	concurrency    int
	timeout        time.Duration
	mode           loadMode
	users          int
	userOffset     int64
	sku            int64
	quantity       int64
	rechargeAmount int64
	outputPath     string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg  config
		mode string
	)

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "checkout HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "number of scenarios when -duration is not set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCheckout), "load mode: checkout | recharge | mixed")
	fs.IntVar(&cfg.users, "users", 10, "number of distinct buyers")
	fs.Int64Var(&cfg.userOffset, "user-offset", 1, "first buyer id")
	fs.Int64Var(&cfg.sku, "sku", 1, "product option id to order")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per order")
	fs.Int64Var(&cfg.rechargeAmount, "recharge-amount", 10_000, "amount per recharge")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.mode = loadMode(strings.TrimSpace(mode))

	switch {
	case cfg.baseURL == "":
		return config{}, errors.New("url is required")
	case cfg.mode != modeCheckout && cfg.mode != modeRecharge && cfg.mode != modeMixed:
		return config{}, fmt.Errorf("unsupported mode: %s", mode)
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case cfg.users <= 0 || cfg.userOffset <= 0:
		return config{}, errors.New("users and user-offset must be > 0")
	case cfg.sku <= 0 || cfg.quantity <= 0:
		return config{}, errors.New("sku and quantity must be > 0")
	case cfg.rechargeAmount <= 0:
		return config{}, errors.New("recharge-amount must be > 0")
	}
	return cfg, nil
}

type productOption struct {
	ID        int64 `json:"productOptionId"`
	ProductID int64 `json:"productId"`
	Price     int64 `json:"price"`
	Stock     int64 `json:"stock"`
}

type client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	col     *collector
}

// do выполняет запрос от имени userID и учитывает его статус в collector.
func (c *client) do(ctx context.Context, call, method, path string, userID int64, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(call, time.Since(start), statusTransportError)
		return statusTransportError, err
	}
	defer resp.Body.Close()
	c.col.record(call, time.Since(start), resp.StatusCode)

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// findOption листает каталог, пока не найдёт SKU.
func (c *client) findOption(ctx context.Context, userID, sku int64) (productOption, error) {
	for page := 1; ; page++ {
		var resp struct {
			List []productOption `json:"list"`
		}
		path := fmt.Sprintf("/products?page=%d&limit=%d", page, productsPageLimit)
		status, err := c.do(ctx, callProducts, http.MethodGet, path, userID, nil, &resp)
		if err != nil {
			return productOption{}, err
		}
		if status != http.StatusOK {
			return productOption{}, fmt.Errorf("list products: status %d", status)
		}
		for _, opt := range resp.List {
			if opt.ID == sku {
				return opt, nil
			}
		}
		if len(resp.List) < productsPageLimit {
			return productOption{}, fmt.Errorf("product option %d not found", sku)
		}
	}
}

type orderOption struct {
	ProductOptionID int64 `json:"productOptionId"`
	Quantity        int64 `json:"quantity"`
}

type orderProduct struct {
	ProductID int64         `json:"productId"`
	Options   []orderOption `json:"options"`
}

type orderBody struct {
	Products   []orderProduct `json:"products"`
	UsedAmount int64          `json:"usedAmount"`
}

func runScenario(ctx context.Context, c *client, cfg config, opt productOption, index int) {
	userID := cfg.userOffset + int64(index%cfg.users)

	recharge := cfg.mode == modeRecharge || (cfg.mode == modeMixed && index%2 == 0)
	if recharge {
		_, _ = c.do(ctx, callRecharge, http.MethodPost, "/balances/recharge", userID,
			map[string]int64{"amount": cfg.rechargeAmount}, nil)
		return
	}

	body := orderBody{
		Products: []orderProduct{{
			ProductID: opt.ProductID,
			Options:   []orderOption{{ProductOptionID: opt.ID, Quantity: cfg.quantity}},
		}},
		UsedAmount: opt.Price * cfg.quantity,
	}
	_, _ = c.do(ctx, callCreateOrder, http.MethodPost, "/orders", userID, body, nil)
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	col := newCollector()
	c := &client{http: httpClient, baseURL: cfg.baseURL, timeout: cfg.timeout, col: col}

	var (
		before productOption
		err    error
	)
	if cfg.mode != modeRecharge {
		before, err = c.findOption(ctx, cfg.userOffset, cfg.sku)
		if err != nil {
			return report{}, err
		}
	}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				runScenario(ctx, c, cfg, before, index)
			}
		}()
	}
	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	duration := time.Since(startedAt)

	var check *stockCheck
	if cfg.mode != modeRecharge {
		after, err := c.findOption(ctx, cfg.userOffset, cfg.sku)
		if err != nil {
			return report{}, fmt.Errorf("verify stock: %w", err)
		}
		ordered := col.successes(callCreateOrder) * cfg.quantity
		check = &stockCheck{
			SKU:          cfg.sku,
			Before:       before.Stock,
			After:        after.Stock,
			OrderedUnits: ordered,
			Consistent:   after.Stock >= 0 && before.Stock-after.Stock == ordered,
		}
	}

	result := col.buildReport(startedAt, duration)
	result.Stock = check
	return result, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fail("invalid config: %v", err)
	}

	httpClient := &http.Client{Transport: &http.Transport{
		MaxIdleConns:        cfg.concurrency,
		MaxIdleConnsPerHost: cfg.concurrency,
	}}

	result, err := run(context.Background(), cfg, httpClient)
	if err != nil {
		fail("load test failed: %v", err)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("failed to write report: %v", err)
		}
	}

	if result.failed() > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/paper-api/internal/accounts"
	"github.com/ksred/paper-api/internal/auth"
	"github.com/ksred/paper-api/internal/config"
	"github.com/ksred/paper-api/internal/database"
	"github.com/ksred/paper-api/internal/engine"
	"github.com/ksred/paper-api/internal/notify"
	"github.com/ksred/paper-api/internal/oracle"
	"github.com/ksred/paper-api/internal/positions"
	"github.com/ksred/paper-api/internal/types"
	"github.com/ksred/paper-api/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	sides   = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the paper trading API
type simulationClient struct {
	baseURL   string
	authToken string
	accountID string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API, opens a paper account and prepares
// performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"account":   {name: "Create Account"},
			"place":     {name: "Place Order"},
			"get":       {name: "Get Account"},
			"positions": {name: "List Positions"},
			"close":     {name: "Close Position"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	// Open the paper account every worker trades against
	accountID, err := sc.createAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	sc.accountID = accountID

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Data.Token != "" {
		return result.Data.Token, nil
	}
	return result.Token, nil
}

// createAccount opens a fresh paper account with a large opening balance
// Returns the account ID on success
func (sc *simulationClient) createAccount() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["account"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(map[string]interface{}{
		"initial_balance": "1000000",
		"currency":        "USDT",
	})
	if err != nil {
		return "", err
	}

	respBody, status, err := sc.doRequest("POST", "/api/v1/accounts", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("create account failed with status %d: %s", status, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			AccountID string `json:"account_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if result.Data.AccountID == "" {
		return "", fmt.Errorf("no account ID in response: %s", string(respBody))
	}

	return result.Data.AccountID, nil
}

// placeOrder submits a market order to the API
// Returns the committed order on success
func (sc *simulationClient) placeOrder(symbol, side string, quantity float64) (*types.Order, error) {
	start := time.Now()
	defer func() {
		sc.stats["place"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(map[string]interface{}{
		"account_id": sc.accountID,
		"symbol":     symbol,
		"side":       side,
		"order_type": "MARKET",
		"quantity":   fmt.Sprintf("%f", quantity),
	})
	if err != nil {
		return nil, err
	}

	respBody, status, err := sc.doRequest("POST", "/api/v1/orders", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("place order failed with status %d: %s", status, string(respBody))
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if result.Data.OrderID == "" {
		return nil, fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return &result.Data, nil
}

// getAccount retrieves the current account state
func (sc *simulationClient) getAccount() (*types.Account, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	respBody, status, err := sc.doRequest("GET", "/api/v1/accounts/"+sc.accountID, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get account failed with status %d: %s", status, string(respBody))
	}

	var result struct {
		Success bool          `json:"success"`
		Data    types.Account `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// listPositions retrieves the account's open positions
func (sc *simulationClient) listPositions() ([]types.Position, error) {
	start := time.Now()
	defer func() {
		sc.stats["positions"].addDuration(time.Since(start))
	}()

	respBody, status, err := sc.doRequest("GET", "/api/v1/accounts/"+sc.accountID+"/positions", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list positions failed with status %d: %s", status, string(respBody))
	}

	var result struct {
		Success bool             `json:"success"`
		Data    []types.Position `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data, nil
}

// closePosition closes an open position at market
func (sc *simulationClient) closePosition(positionID string) error {
	start := time.Now()
	defer func() {
		sc.stats["close"].addDuration(time.Since(start))
	}()

	respBody, status, err := sc.doRequest("POST", "/api/v1/positions/"+positionID+"/close", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("close position failed with status %d: %s", status, string(respBody))
	}
	return nil
}

// doRequest issues an authenticated request and returns the body and status
func (sc *simulationClient) doRequest(method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	return respBody, resp.StatusCode, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the paper trading simulation
// It starts a local API server and simulates multiple concurrent trading clients
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Collect statistics during processing
	stats := struct {
		TotalOrders  int
		FilledOrders int
		RealFills    int
		FailedOrders int
		StartTime    time.Time
		Symbols      map[string]int
		Sides        map[string]int
		mu           sync.Mutex
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				symbol := symbols[rand.Intn(len(symbols))]
				side := sides[rand.Intn(len(sides))]
				quantity := float64(rand.Intn(10)+1) / 10

				order, err := simClient.placeOrder(symbol, side, quantity)

				stats.mu.Lock()
				stats.TotalOrders++
				if err != nil {
					stats.FailedOrders++
				} else {
					stats.FilledOrders++
					stats.Symbols[order.Symbol]++
					stats.Sides[order.Side]++
					if order.RealFill {
						stats.RealFills++
					}
				}
				stats.mu.Unlock()

				if err != nil {
					log.Error().Err(err).
						Int("worker_id", workerID).
						Str("symbol", symbol).
						Msg("Failed to place order")
				} else {
					log.Info().
						Int("worker_id", workerID).
						Str("order_id", order.OrderID).
						Str("symbol", order.Symbol).
						Str("side", order.Side).
						Str("execution_price", order.ExecutionPrice.String()).
						Msg("Order filled")
				}

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Close whatever is still open
	openPositions, err := simClient.listPositions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list positions")
	}
	closed := 0
	for _, position := range openPositions {
		if err := simClient.closePosition(position.PositionID); err != nil {
			log.Error().Err(err).
				Str("position_id", position.PositionID).
				Msg("Failed to close position")
			continue
		}
		closed++
	}

	account, err := simClient.getAccount()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch final account state")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 PAPER TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Order Statistics
------------------
Total Orders:     %d
Filled:           %d
Real Fills:       %d
Failed Orders:    %d
Positions Closed: %d
Duration:         %v

💰 Final Account
----------------
Balance:          %s %s
Equity:           %s
Realized P&L:     %s
Total Trades:     %d (W:%d / L:%d)

📈 Symbol Distribution
--------------------
`, stats.TotalOrders, stats.FilledOrders, stats.RealFills, stats.FailedOrders,
		closed, duration.Round(time.Millisecond),
		account.Balance.StringFixed(2), account.Currency,
		account.Equity.StringFixed(2), account.RealizedPnL.StringFixed(2),
		account.TotalTrades, account.WinningTrades, account.LosingTrades)

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-8s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// startServer initializes and starts the paper trading API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Default()
	cfg.Storage.SQLitePath = "simulation.db"

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	accountService := accounts.NewService(db)
	book := positions.NewBook(db)

	commissionRate := decimal.NewFromFloat(cfg.Trading.CommissionRate)
	priceOracle := oracle.NewSimulatedOracle(commissionRate)

	hub := notify.NewHub()
	go hub.Run()
	sink := notify.Fanout{notify.NewLogSink(), hub}

	eng := engine.NewEngine(db, accountService, book, priceOracle, sink,
		commissionRate, cfg.OracleTimeout())

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	accountHandlers := accounts.NewGinHandlers(accountService)
	engineHandlers := engine.NewGinHandlers(eng)

	// Setup routes
	jwtSecret := []byte(cfg.Auth.JWTSecret)
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		accountGroup := v1.Group("/accounts")
		accountGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			accountGroup.POST("", accountHandlers.CreateAccountHandler())
			accountGroup.GET("/:account_id", accountHandlers.GetAccountHandler())
			accountGroup.GET("/:account_id/positions", engineHandlers.ListPositionsHandler())
		}

		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", engineHandlers.PlaceOrderHandler())
		}

		positionGroup := v1.Group("/positions")
		positionGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			positionGroup.POST("/:position_id/close", engineHandlers.ClosePositionHandler())
		}
	}

	// Start the server
	return router.Run(":8080")
}

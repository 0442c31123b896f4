package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/database"
	"github.com/swiftdrop/fulfillment-api/internal/inventory"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/otp"
	"github.com/swiftdrop/fulfillment-api/internal/payment"
	"github.com/swiftdrop/fulfillment-api/internal/sms"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/gorm"
)

const (
	minOrders     = 10
	maxOrders     = 50
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	webhookSecret = "fulfillment-webhook-secret"
)

var skus = []string{"SHAMPOO-500", "CONDITIONER-500", "POMADE-150", "SOAP-BAR", "OIL-100"}

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

// simulationClient handles HTTP communication with the fulfillment API
type simulationClient struct {
	baseURL string
	client  *http.Client
	db      *gorm.DB // used only to read OTP codes the SMS never leaves the process
	stats   map[string]*routeStats
}

func newSimulationClient(db *gorm.DB) *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		db:      db,
		stats: map[string]*routeStats{
			"order":   {name: "Create Order"},
			"webhook": {name: "Payment Webhook"},
			"verify":  {name: "Verify OTP"},
			"photo":   {name: "Photo Approval"},
			"deduct":  {name: "Inventory Deduction"},
		},
	}
}

func (sc *simulationClient) postJSON(route, path string, payload any, sign bool) (*http.Response, error) {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sign {
		mac := hmac.New(sha256.New, []byte(webhookSecret))
		mac.Write(body)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].failures++
		return nil, err
	}
	if resp.StatusCode >= 500 {
		sc.stats[route].failures++
	}
	return resp, nil
}

func decodeData[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	var out T
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return out, fmt.Errorf("bad envelope: %s", string(raw))
	}
	if err := json.Unmarshal(envelope.Data, &out); err != nil {
		return out, fmt.Errorf("bad payload: %s", string(envelope.Data))
	}
	return out, nil
}

// fetchOtpCode reads the pending OTP for an order straight from the
// store. In production the code travels by SMS; the simulation has no
// phone to receive it on.
func (sc *simulationClient) fetchOtpCode(orderNumber string) (string, error) {
	var record types.OtpVerification
	err := sc.db.Where("order_number = ? AND status = ?", orderNumber, types.OtpStatusPending).
		Order("id desc").
		First(&record).Error
	if err != nil {
		return "", err
	}
	return record.Code, nil
}

type simStats struct {
	mu               sync.Mutex
	totalOrders      int
	matchedPayments  int
	mismatches       int
	duplicateReplays int
	otpVerified      int
	otpExhausted     int
	deducted         int
	deductReplays    int
}

func main() {
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	go func() {
		if err := startServer(db); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	time.Sleep(500 * time.Millisecond)

	simClient := newSimulationClient(db)
	stats := &simStats{}

	// Seed stock generously so only the orders we starve on purpose fail
	for _, sku := range skus {
		_, err := simClient.postJSON("order", "/api/v1/internal/inventory/stock", map[string]any{
			"sku":      sku,
			"name":     strings.ReplaceAll(sku, "-", " "),
			"quantity": int64(10000),
		}, false)
		if err != nil {
			log.Fatal().Err(err).Str("sku", sku).Msg("failed to seed stock")
		}
	}

	numOrders := minOrders + rand.Intn(maxOrders-minOrders+1)
	start := time.Now()

	var wg sync.WaitGroup
	orderChan := make(chan int)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range orderChan {
				runOrderScenario(simClient, stats, workerID, i)
			}
		}(w)
	}

	for i := 0; i < numOrders; i++ {
		orderChan <- i
	}
	close(orderChan)
	wg.Wait()

	duration := time.Since(start)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("FULFILLMENT PIPELINE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Orders seeded:        %d
Matched payments:     %d
Mismatched payments:  %d
Duplicate replays:    %d
OTPs verified:        %d
OTPs exhausted:       %d
Deductions applied:   %d
Deduction replays:    %d
Duration:             %v
`, stats.totalOrders, stats.matchedPayments, stats.mismatches, stats.duplicateReplays,
		stats.otpVerified, stats.otpExhausted, stats.deducted, stats.deductReplays,
		duration.Round(time.Millisecond))

	fmt.Println("\nRoute performance")
	fmt.Println(strings.Repeat("-", 80))
	for _, rs := range simClient.stats {
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s calls=%-4d failures=%-3d min=%v max=%v mean=%v median=%v p95=%v p99=%v\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
	fmt.Println(strings.Repeat("=", 80))
}

// runOrderScenario drives one order through the whole pipeline:
// seed order, payment webhook (sometimes mismatched, sometimes
// replayed), OTP verification (sometimes exhausted), photo approval,
// and finally the guarded deduction (sometimes called twice).
func runOrderScenario(sc *simulationClient, stats *simStats, workerID, seq int) {
	orderNumber := fmt.Sprintf("O%d%03d", 1000+workerID, seq)
	customerPhone := fmt.Sprintf("080%08d", rand.Intn(100000000))

	items := []map[string]any{
		{"order_number": orderNumber, "sku": skus[rand.Intn(len(skus))], "quantity": int64(rand.Intn(5) + 1)},
	}
	resp, err := sc.postJSON("order", "/api/v1/internal/orders", map[string]any{
		"order_number":   orderNumber,
		"customer_name":  fmt.Sprintf("Customer %s", orderNumber),
		"customer_phone": customerPhone,
		"total_amount":   decimal.NewFromInt(int64(rand.Intn(40000) + 5000)),
		"items":          items,
	}, false)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("failed to create order")
		return
	}
	resp.Body.Close()

	stats.mu.Lock()
	stats.totalOrders++
	stats.mu.Unlock()

	// One order in ten claims the wrong phone: expect a mismatch row
	mismatched := rand.Intn(10) == 0
	claimedPhone := customerPhone
	if mismatched {
		claimedPhone = fmt.Sprintf("081%08d", rand.Intn(100000000))
	}

	webhook := map[string]any{
		"order_id":              orderNumber,
		"customer_phone":        claimedPhone,
		"amount":                decimal.NewFromInt(int64(rand.Intn(40000) + 5000)),
		"transaction_reference": "TXN_" + uuid.New().String(),
		"payment_date":          time.Now().Format(time.RFC3339),
	}

	resp, err = sc.postJSON("webhook", "/api/v1/webhooks/payment", webhook, true)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("webhook failed")
		return
	}
	result, err := decodeData[types.PaymentResult](resp)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("webhook response unreadable")
		return
	}

	// One in five deliveries is replayed, as real gateways do
	if rand.Intn(5) == 0 {
		if dup, dupErr := sc.postJSON("webhook", "/api/v1/webhooks/payment", webhook, true); dupErr == nil {
			dup.Body.Close()
			stats.mu.Lock()
			stats.duplicateReplays++
			stats.mu.Unlock()
		}
	}

	if mismatched {
		stats.mu.Lock()
		stats.mismatches++
		stats.mu.Unlock()
		log.Info().
			Str("order_number", orderNumber).
			Str("mismatch_type", result.MismatchType).
			Msg("mismatch recorded, order stops here")
		return
	}

	stats.mu.Lock()
	stats.matchedPayments++
	stats.mu.Unlock()

	code, err := sc.fetchOtpCode(orderNumber)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("no otp code found")
		return
	}

	// One order in ten burns all three attempts on wrong codes
	exhaust := rand.Intn(10) == 0
	if exhaust {
		for attempt := 0; attempt < 3; attempt++ {
			wrong := fmt.Sprintf("%06d", (mustAtoi(code)+1+attempt)%1000000)
			if r, verr := sc.postJSON("verify", "/api/v1/otp/"+orderNumber+"/verify",
				map[string]string{"otp": wrong}, false); verr == nil {
				r.Body.Close()
			}
		}
		stats.mu.Lock()
		stats.otpExhausted++
		stats.mu.Unlock()
		return
	}

	resp, err = sc.postJSON("verify", "/api/v1/otp/"+orderNumber+"/verify",
		map[string]string{"otp": code}, false)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("otp verify failed")
		return
	}
	verify, err := decodeData[types.OtpVerifyResult](resp)
	if err != nil || !verify.Success {
		log.Error().Str("order_number", orderNumber).Msg("otp rejected")
		return
	}

	stats.mu.Lock()
	stats.otpVerified++
	stats.mu.Unlock()

	resp, err = sc.postJSON("photo", "/api/v1/internal/compliance/"+orderNumber+"/photo-approval",
		map[string]bool{"approved": true}, false)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("photo approval failed")
		return
	}
	resp.Body.Close()

	resp, err = sc.postJSON("deduct", "/api/v1/internal/inventory/"+orderNumber+"/deduct", nil, false)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("deduction failed")
		return
	}
	deduction, err := decodeData[types.DeductionResult](resp)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("deduction response unreadable")
		return
	}

	stats.mu.Lock()
	stats.deducted++
	stats.mu.Unlock()

	// One in four orders retries the deduction: must be a no-op replay
	if rand.Intn(4) == 0 {
		if r, derr := sc.postJSON("deduct", "/api/v1/internal/inventory/"+orderNumber+"/deduct", nil, false); derr == nil {
			replay, rerr := decodeData[types.DeductionResult](r)
			if rerr == nil && replay.AuditID == deduction.AuditID {
				stats.mu.Lock()
				stats.deductReplays++
				stats.mu.Unlock()
			}
		}
	}

	log.Info().
		Str("order_number", orderNumber).
		Str("audit_id", deduction.AuditID).
		Msg("order fully processed")
}

func mustAtoi(code string) int {
	n := 0
	for _, r := range code {
		n = n*10 + int(r-'0')
	}
	return n
}

// startServer initializes and starts the fulfillment API server
// without auth middleware, which the simulation does not exercise
func startServer(db *gorm.DB) error {
	gin.SetMode(gin.ReleaseMode)

	recorder := audit.NewRecorder()
	ordersService := orders.NewService(db)
	complianceService := compliance.NewService(db, recorder)
	otpService := otp.NewService(db, ordersService.GetDB(), complianceService, simSender{}, recorder)
	paymentService := payment.NewService(db, ordersService.GetDB(), complianceService, otpService, recorder, payment.LogNotifier{})
	inventoryService := inventory.NewService(db, ordersService.GetDB(), complianceService, recorder)

	router := gin.New()
	ordersHandlers := orders.NewGinHandlers(ordersService)
	complianceHandlers := compliance.NewGinHandlers(complianceService)
	otpHandlers := otp.NewGinHandlers(otpService)
	paymentHandlers := payment.NewGinHandlers(paymentService)
	inventoryHandlers := inventory.NewGinHandlers(inventoryService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/payment", paymentHandlers.PaymentWebhookHandler())
		v1.POST("/otp/:order_number/verify", otpHandlers.VerifyOtpHandler())
		v1.POST("/otp/:order_number/resend", otpHandlers.ResendOtpHandler())

		internal := v1.Group("/internal")
		{
			internal.POST("/orders", ordersHandlers.CreateOrderHandler())
			internal.POST("/compliance/:order_number/photo-approval", complianceHandlers.PhotoApprovalHandler())
			internal.POST("/inventory/:order_number/deduct", inventoryHandlers.DeductHandler())
			internal.POST("/inventory/stock", inventoryHandlers.UpsertStockHandler())
		}
	}

	return router.Run(":8080")
}

// simSender accepts every dispatch without talking to a provider.
type simSender struct{}

func (simSender) SendSms(_ context.Context, _, _ string) (sms.Result, error) {
	return sms.Result{MessageID: "sim-" + uuid.New().String()}, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/elit21/storefront-go/pkg/idempotency"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios   []scenario
	selectedScn int
	status      string
	metrics     string
	busy        bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"products", "List active products"},
			{"cart", "Add the demo variant and show the cart"},
			{"checkout", "Cart to pending order with approval link"},
			{"replay", "Send the same checkout twice with one Idempotency-Key"},
			{"bench", "Hammer the product listing"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "down":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "elit21 storefront CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		api := newAPIClient(getenv("STOREFRONT_BASE_URL", "http://localhost:8080"))
		switch scn {
		case "products":
			body, err := api.get("/api/products")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Listing failed: %v", err)}
			}
			return scenarioResult{status: "Products OK", metrics: body}
		case "cart":
			if body, err := api.fillCart(); err != nil {
				return scenarioResult{status: fmt.Sprintf("Cart failed: %v", err)}
			} else {
				return scenarioResult{status: "Cart OK", metrics: body}
			}
		case "checkout":
			body, err := api.checkout(idempotency.NewKey())
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			return scenarioResult{status: "Checkout OK", metrics: body}
		case "replay":
			key := idempotency.NewKey()
			first, err := api.checkout(key)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("First checkout failed: %v", err)}
			}
			second, err := api.checkout(key)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Replay failed: %v", err)}
			}
			return scenarioResult{status: "Replay OK", metrics: fmt.Sprintf("first=%s second=%s", first, second)}
		case "bench":
			return scenarioResult{status: "Benchmark finished", metrics: api.bench()}
		default:
			return scenarioResult{status: fmt.Sprintf("unknown scenario %q", scn)}
		}
	}
}

// apiClient keeps the session cookie across calls; a cart without a
// sticky session is always empty.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	jar, _ := cookiejar.New(nil)
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second, Jar: jar},
	}
}

func (a *apiClient) fillCart() (string, error) {
	qty := 2
	for i := 0; i < qty; i++ {
		if _, err := a.post("/api/cart/add", map[string]any{
			"product_id": envInt("DEMO_PRODUCT_ID", 1),
			"color":      getenv("DEMO_COLOR", "Black"),
			"size":       getenv("DEMO_SIZE", "M"),
		}, ""); err != nil {
			return "", err
		}
	}
	return a.get("/api/cart")
}

func (a *apiClient) checkout(idemKey string) (string, error) {
	if _, err := a.fillCart(); err != nil {
		return "", err
	}
	return a.post("/api/checkout/create-order", map[string]any{
		"email": getenv("DEMO_EMAIL", "demo@elit21.test"),
		"address": map[string]any{
			"customer_name": "Demo Buyer",
			"house_number":  "1",
			"street":        "Demo Street",
			"city":          "Demo City",
			"province":      "Demo",
			"country":       "Demoland",
			"postal_code":   "00000",
		},
	}, idemKey)
}

func (a *apiClient) bench() string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count, errors int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					_, err := a.get("/api/products")
					mu.Lock()
					if err != nil {
						errors++
					} else {
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / duration.Seconds()
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f req/s", count, errors, avg, throughput)
}

func (a *apiClient) get(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	return a.do(req)
}

func (a *apiClient) post(path string, payload any, idemKey string) (string, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotency.Header, idemKey)
	}
	return a.do(req)
}

func (a *apiClient) do(req *http.Request) (string, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func main() {
	runCmd := flag.String("run", "", "run scenario: products|cart|checkout|replay|bench")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

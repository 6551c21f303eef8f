package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"alphaedge/internal/models"
	"alphaedge/pkg/utils"
)

// jsonAPI - быстрый кодек, совместимый с encoding/json
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	zerodhaBaseURL    = "https://api.kite.trade"
	zerodhaAPIVersion = "3"
	zerodhaExchange   = "NFO"
	zerodhaProduct    = "NRML"
)

// Zerodha - шлюз Kite Connect API.
// Размещение возвращает брокерский order ID сразу; фактический статус
// приходит постбэком, до него ордер остаётся PENDING.
type Zerodha struct {
	apiKey      string
	accessToken string
	baseURL     string
	http        *HTTPClient
}

// NewZerodha создает шлюз с расшифрованными учётными данными
func NewZerodha(apiKey, accessToken string) *Zerodha {
	return &Zerodha{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     zerodhaBaseURL,
		http:        GetGlobalHTTPClient(),
	}
}

// Name возвращает имя брокера
func (z *Zerodha) Name() string {
	return "zerodha"
}

// Login проверяет, что access token ещё жив
func (z *Zerodha) Login(ctx context.Context) error {
	var resp struct {
		Data struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	if err := z.request(ctx, http.MethodGet, "/user/profile", nil, &resp); err != nil {
		return err
	}
	utils.Debug("zerodha session validated",
		utils.Broker(z.Name()),
		utils.String("broker_user", resp.Data.UserID),
	)
	return nil
}

// PlaceOrder размещает ордер через /orders/regular
func (z *Zerodha) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	form := url.Values{}
	form.Set("exchange", zerodhaExchange)
	form.Set("tradingsymbol", tradingSymbol(order))
	form.Set("transaction_type", order.TransactionType)
	form.Set("order_type", order.OrderType)
	form.Set("quantity", strconv.Itoa(order.Quantity))
	form.Set("product", zerodhaProduct)
	form.Set("validity", "DAY")
	if order.OrderType == models.OrderTypeLimit {
		form.Set("price", formatPrice(order.Price))
	}

	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := z.request(ctx, http.MethodPost, "/orders/regular", form, &resp); err != nil {
		return "", err
	}
	return resp.Data.OrderID, nil
}

// CancelOrder отменяет неисполненный ордер
func (z *Zerodha) CancelOrder(ctx context.Context, orderID string) error {
	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	return z.request(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil, &resp)
}

// GetRequiredMargin запрашивает маржу под ордер через /margins/orders
func (z *Zerodha) GetRequiredMargin(ctx context.Context, order *models.Order) (float64, error) {
	payload := []map[string]interface{}{{
		"exchange":         zerodhaExchange,
		"tradingsymbol":    tradingSymbol(order),
		"transaction_type": order.TransactionType,
		"variety":          "regular",
		"product":          zerodhaProduct,
		"order_type":       order.OrderType,
		"quantity":         order.Quantity,
		"price":            order.Price,
	}}

	var resp struct {
		Data []struct {
			Total float64 `json:"total"`
		} `json:"data"`
	}
	if err := z.requestJSON(ctx, http.MethodPost, "/margins/orders", payload, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, &BrokerError{
			Broker:  z.Name(),
			Code:    CodeRejected,
			Message: "empty margin response",
		}
	}
	return resp.Data[0].Total, nil
}

// GetOpenPositions возвращает net-позиции из /portfolio/positions
func (z *Zerodha) GetOpenPositions(ctx context.Context) ([]*NetPosition, error) {
	var resp struct {
		Data struct {
			Net []struct {
				TradingSymbol string  `json:"tradingsymbol"`
				Quantity      int     `json:"quantity"`
				AveragePrice  float64 `json:"average_price"`
				LastPrice     float64 `json:"last_price"`
				PNL           float64 `json:"pnl"`
			} `json:"net"`
		} `json:"data"`
	}
	if err := z.request(ctx, http.MethodGet, "/portfolio/positions", nil, &resp); err != nil {
		return nil, err
	}

	var positions []*NetPosition
	for _, net := range resp.Data.Net {
		if net.Quantity == 0 {
			continue
		}
		positions = append(positions, &NetPosition{
			Identifier:   net.TradingSymbol,
			Symbol:       net.TradingSymbol,
			Quantity:     net.Quantity,
			AveragePrice: net.AveragePrice,
			LastPrice:    net.LastPrice,
			PNL:          net.PNL,
		})
	}
	return positions, nil
}

// GetOpenOrders возвращает неисполненные ордера из /orders
func (z *Zerodha) GetOpenOrders(ctx context.Context) ([]*OrderState, error) {
	states, err := z.fetchOrders(ctx, "/orders")
	if err != nil {
		return nil, err
	}

	var open []*OrderState
	for _, state := range states {
		if !models.IsTerminalOrderStatus(state.Status) {
			open = append(open, state)
		}
	}
	return open, nil
}

// GetOrderHistory возвращает историю статусов ордера
func (z *Zerodha) GetOrderHistory(ctx context.Context, orderID string) ([]*OrderState, error) {
	return z.fetchOrders(ctx, "/orders/"+orderID)
}

func (z *Zerodha) fetchOrders(ctx context.Context, path string) ([]*OrderState, error) {
	var resp struct {
		Data []struct {
			OrderID         string  `json:"order_id"`
			Status          string  `json:"status"`
			StatusMessage   string  `json:"status_message"`
			AveragePrice    float64 `json:"average_price"`
			FilledQuantity  int     `json:"filled_quantity"`
			OrderTimestamp  string  `json:"order_timestamp"`
		} `json:"data"`
	}
	if err := z.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	states := make([]*OrderState, 0, len(resp.Data))
	for _, item := range resp.Data {
		ts, _ := time.Parse("2006-01-02 15:04:05", item.OrderTimestamp)
		states = append(states, &OrderState{
			OrderID:        item.OrderID,
			Status:         MapZerodhaStatus(item.Status),
			AveragePrice:   item.AveragePrice,
			FilledQuantity: item.FilledQuantity,
			Message:        item.StatusMessage,
			Timestamp:      ts,
		})
	}
	return states, nil
}

// GetAccountDetails возвращает маржинальный профиль equity-сегмента
func (z *Zerodha) GetAccountDetails(ctx context.Context) (*AccountDetails, error) {
	var resp struct {
		Data struct {
			Net       float64 `json:"net"`
			Available struct {
				Cash float64 `json:"cash"`
			} `json:"available"`
			Utilised struct {
				Debits float64 `json:"debits"`
			} `json:"utilised"`
		} `json:"data"`
	}
	if err := z.request(ctx, http.MethodGet, "/user/margins/equity", nil, &resp); err != nil {
		return nil, err
	}

	return &AccountDetails{
		Balance:    resp.Data.Available.Cash,
		UsedMargin: resp.Data.Utilised.Debits,
		Available:  resp.Data.Net,
	}, nil
}

// Close освобождает ресурсы шлюза.
// HTTP клиент глобальный, закрывается на уровне приложения.
func (z *Zerodha) Close() error {
	return nil
}

// ============================================================
// Транспорт
// ============================================================

func (z *Zerodha) request(ctx context.Context, method, path string, form url.Values, dest interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return z.send(req, dest)
}

func (z *Zerodha) requestJSON(ctx context.Context, method, path string, payload, dest interface{}) error {
	raw, err := jsonAPI.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return z.send(req, dest)
}

func (z *Zerodha) send(req *http.Request, dest interface{}) error {
	req.Header.Set("X-Kite-Version", zerodhaAPIVersion)
	req.Header.Set("Authorization", "token "+z.apiKey+":"+z.accessToken)

	resp, err := z.http.Do(req)
	if err != nil {
		return &BrokerError{
			Broker:   z.Name(),
			Code:     CodeNetwork,
			Message:  err.Error(),
			Original: err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BrokerError{
			Broker:   z.Name(),
			Code:     CodeNetwork,
			Message:  "read response: " + err.Error(),
			Original: err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message   string `json:"message"`
			ErrorType string `json:"error_type"`
		}
		_ = jsonAPI.Unmarshal(raw, &apiErr)
		message := apiErr.Message
		if message == "" {
			message = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return &BrokerError{
			Broker:  z.Name(),
			Code:    classifyStatus(resp.StatusCode),
			Message: message,
		}
	}

	if dest == nil {
		return nil
	}
	if err := jsonAPI.Unmarshal(raw, dest); err != nil {
		return &BrokerError{
			Broker:   z.Name(),
			Code:     CodeNetwork,
			Message:  "decode response: " + err.Error(),
			Original: err,
		}
	}
	return nil
}

func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeThrottled
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return CodeAuth
	case status == http.StatusNotFound:
		return CodeNotFound
	case status >= 500:
		return CodeGatewayDown
	default:
		return CodeRejected
	}
}

// ============================================================
// Маппинг форматов
// ============================================================

// MapZerodhaStatus приводит статус Kite к внутреннему
func MapZerodhaStatus(status string) string {
	switch strings.ToUpper(status) {
	case "COMPLETE":
		return models.OrderStatusCompleted
	case "CANCELLED":
		return models.OrderStatusCancelled
	case "REJECTED":
		return models.OrderStatusRejected
	case "OPEN", "TRIGGER PENDING", "AMO REQ RECEIVED":
		return models.OrderStatusOpen
	default:
		return models.OrderStatusPending
	}
}

// tradingSymbol строит тикер NFO вида NIFTY27AUG2624000CE
func tradingSymbol(order *models.Order) string {
	expiry := order.Expiry
	if parsed, err := time.Parse("2006-01-02", order.Expiry); err == nil {
		expiry = strings.ToUpper(parsed.Format("02Jan06"))
	}
	return order.Symbol + expiry + formatPrice(order.Strike) + order.Right
}

func formatPrice(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

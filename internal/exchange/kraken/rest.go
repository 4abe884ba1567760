// Package kraken is the concrete Kraken REST and websocket adapter: the
// "external collaborator" spec.md names by contract only. It exists so
// the repo is runnable end to end, but the strategy core never imports
// it directly — only the engine wires it in behind exchange.RESTService
// and exchange.StreamService.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	httpclient "market_maker/pkg/http"
)

const baseURL = "https://api.kraken.com"

// REST is the exchange.RESTService implementation backed by Kraken's
// public and private HTTP API.
type REST struct {
	client  *httpclient.Client
	base    string
	quote   string
	altname string
}

// NewREST builds a Kraken REST adapter for the given pair, signing
// private-endpoint requests with apiKey/apiSecret.
func NewREST(apiKey, apiSecret, base, quote string, timeout time.Duration) *REST {
	return &REST{
		client:  httpclient.NewClient(baseURL, timeout, newSigner(apiKey, apiSecret)),
		base:    base,
		quote:   quote,
		altname: base + quote,
	}
}

type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (r *REST) call(ctx context.Context, path string, private bool, form url.Values) (json.RawMessage, error) {
	if form == nil {
		form = url.Values{}
	}
	if private {
		form.Set("nonce", strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10))
	}

	var body []byte
	var err error
	if private {
		body, err = r.client.PostForm(ctx, path, form)
	} else {
		body, err = r.client.Get(ctx, path, urlValuesToMap(form))
	}
	if err != nil {
		return nil, err
	}

	var resp krakenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode kraken response: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, classifyError(resp.Error)
	}
	return resp.Result, nil
}

func urlValuesToMap(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}

func (r *REST) SystemStatus(ctx context.Context) (string, error) {
	result, err := r.call(ctx, "/0/public/SystemStatus", false, nil)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode system status: %w", err)
	}
	return parsed.Status, nil
}

func (r *REST) AssetPairInfo(ctx context.Context, base, quote string) (domain.AssetPairInfo, error) {
	result, err := r.call(ctx, "/0/public/AssetPairs", false, url.Values{"pair": {base + quote}})
	if err != nil {
		return domain.AssetPairInfo{}, err
	}

	var parsed map[string]struct {
		CostDecimals int                `json:"cost_decimals"`
		FeesMaker    [][2]decimal.Decimal `json:"fees_maker"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return domain.AssetPairInfo{}, fmt.Errorf("failed to decode asset pair info: %w", err)
	}

	for _, v := range parsed {
		info := domain.AssetPairInfo{Base: base, Quote: quote, CostDecimals: v.CostDecimals}
		for _, tier := range v.FeesMaker {
			info.FeesMaker = append(info.FeesMaker, domain.FeeTier{VolumeThreshold: tier[0], Fee: tier[1]})
		}
		return info, nil
	}
	return domain.AssetPairInfo{}, fmt.Errorf("no asset pair info returned for %s%s", base, quote)
}

func (r *REST) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	result, err := r.call(ctx, "/0/private/Balance", true, nil)
	if err != nil {
		return nil, err
	}
	var parsed map[string]decimal.Decimal
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode balances: %w", err)
	}
	return parsed, nil
}

func (r *REST) PairBalance(ctx context.Context, base, quote string) (exchange.PairBalance, error) {
	balances, err := r.Balances(ctx)
	if err != nil {
		return exchange.PairBalance{}, err
	}
	b := balances[base]
	q := balances[quote]
	// /0/private/Balance does not separate held-in-trade amounts from
	// the total balance (/0/private/BalanceEx would), so the available
	// amounts reported here are the totals and overstate what is free
	// while orders are open.
	return exchange.PairBalance{Base: b, Quote: q, BaseAvailable: b, QuoteAvailable: q}, nil
}

func (r *REST) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (string, error) {
	form := url.Values{
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {"limit"},
		"price":     {req.Price.String()},
		"volume":    {req.Volume.String()},
		"userref":   {strconv.FormatInt(req.Userref, 10)},
	}
	if req.Validate {
		form.Set("validate", "true")
	}
	if req.PostOnly {
		form.Set("oflags", "post")
	}
	if req.ClientID != "" {
		form.Set("cl_ord_id", req.ClientID)
	}

	result, err := r.call(ctx, "/0/private/AddOrder", true, form)
	if err != nil {
		return "", err
	}

	var parsed struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode order placement: %w", err)
	}
	if len(parsed.TxID) == 0 {
		return "", fmt.Errorf("order placement returned no txid")
	}
	return parsed.TxID[0], nil
}

func (r *REST) CancelOrder(ctx context.Context, txid string) error {
	_, err := r.call(ctx, "/0/private/CancelOrder", true, url.Values{"txid": {txid}})
	if err != nil && !isUnknownOrderError(err) {
		return err
	}
	return nil
}

func (r *REST) GetOrdersInfo(ctx context.Context, txid string) (*domain.Order, error) {
	result, err := r.call(ctx, "/0/private/QueryOrders", true, url.Values{"txid": {txid}})
	if err != nil {
		if isUnknownOrderError(err) {
			return nil, nil
		}
		return nil, err
	}

	var parsed map[string]struct {
		Status      string          `json:"status"`
		Descr       struct{ Pair string `json:"pair"` } `json:"descr"`
		Price       decimal.Decimal `json:"price"`
		Vol         decimal.Decimal `json:"vol"`
		VolExec     decimal.Decimal `json:"vol_exec"`
		Userref     int64           `json:"userref"`
		OpenTM      float64         `json:"opentm"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode order info: %w", err)
	}

	v, ok := parsed[txid]
	if !ok {
		return nil, nil
	}
	return &domain.Order{
		TXID: txid, Userref: v.Userref, Symbol: v.Descr.Pair,
		Price: v.Price, Volume: v.Vol, VolumeExecuted: v.VolExec,
		Status: domain.Status(v.Status), CreatedAt: time.Unix(int64(v.OpenTM), 0).UTC(),
	}, nil
}

func (r *REST) GetOrderWithRetry(ctx context.Context, txid string, maxTries int) (*domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		order, err := r.GetOrdersInfo(ctx, txid)
		if err != nil {
			lastErr = err
		} else if order != nil {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(2*(attempt+1)) * time.Second):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("order %s not found after %d tries: %w", txid, maxTries, lastErr)
	}
	return nil, fmt.Errorf("order %s not found after %d tries", txid, maxTries)
}

// GetOpenOrders returns open orders for userref, or every open order on
// the account when userref is 0 — Kraken's own OpenOrders semantics
// when the userref parameter is omitted, reused here for the bulk
// "cancel --force" operator path that must not be scoped to one bot.
func (r *REST) GetOpenOrders(ctx context.Context, userref int64) ([]domain.Order, error) {
	form := url.Values{}
	if userref != 0 {
		form.Set("userref", strconv.FormatInt(userref, 10))
	}
	result, err := r.call(ctx, "/0/private/OpenOrders", true, form)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Open map[string]struct {
			Descr   struct{ Pair string `json:"pair"` } `json:"descr"`
			Price   decimal.Decimal `json:"price"`
			Vol     decimal.Decimal `json:"vol"`
			VolExec decimal.Decimal `json:"vol_exec"`
			Status  string          `json:"status"`
			OpenTM  float64         `json:"opentm"`
			Userref int64           `json:"userref"`
		} `json:"open"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(parsed.Open))
	for txid, v := range parsed.Open {
		orders = append(orders, domain.Order{
			TXID: txid, Userref: v.Userref, Symbol: v.Descr.Pair,
			Price: v.Price, Volume: v.Vol, VolumeExecuted: v.VolExec,
			Status: domain.Status(v.Status), CreatedAt: time.Unix(int64(v.OpenTM), 0).UTC(),
		})
	}
	return orders, nil
}

func (r *REST) Truncate(ctx context.Context, amount decimal.Decimal, kind domain.TruncateKind, base, quote string) (decimal.Decimal, error) {
	info, err := r.AssetPairInfo(ctx, base, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}
	decimals := int32(8)
	if kind == domain.TruncatePrice {
		decimals = int32(info.CostDecimals)
	}
	return amount.Truncate(decimals), nil
}

// CheckAPIKeyPermissions checks, in order, that the key can query
// balances, query open orders and obtain a websocket token, and returns
// an error naming the first check that fails. Order placement and
// cancellation permissions are not probed.
func (r *REST) CheckAPIKeyPermissions(ctx context.Context) error {
	if _, err := r.Balances(ctx); err != nil {
		return fmt.Errorf("key lacks balance-query permission: %w", err)
	}
	if _, err := r.call(ctx, "/0/private/OpenOrders", true, nil); err != nil {
		return fmt.Errorf("key lacks order-query permission: %w", err)
	}
	if _, err := r.call(ctx, "/0/private/GetWebSocketsToken", true, nil); err != nil {
		return fmt.Errorf("key lacks websocket-token permission: %w", err)
	}
	return nil
}

func isUnknownOrderError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown order")
}

func classifyError(errs []string) error {
	return fmt.Errorf("kraken API error: %v", errs)
}

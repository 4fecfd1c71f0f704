// Package moutai is the signed client for the remote merchant service.
// It owns the header contract, the signing/encryption scheme, and the
// pacing of outbound calls; callers see domain operations, not raw HTTP.
package moutai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/example/moutai-scheduler/internal/domain/region"
	"github.com/example/moutai-scheduler/internal/domain/reservation"
)

const (
	defaultBaseURL   = "https://app.moutai519.com.cn"
	defaultStaticURL = "https://static.moutai519.com.cn"
	defaultH5URL     = "https://h5.moutai519.com.cn"

	userAgent = "iOS;16.3;Apple;iPhone 14 Pro Max"
	bundleID  = "com.moutai.mall"

	// Opaque header values captured from the app; the remote checks for
	// their presence, not freshness.
	mtInfo = "028e7f96f6369cafe1d105579c5b9377"
	mtK    = "1675213490331"
	mtR    = "clips_OlU6TmFRag5rCXwbNAQ/Tz1SKlN8THcecBp/HGhHdw=="

	// Fixed coordinates used on the registration surface only; submission
	// calls carry the account's own.
	registerLat = "28.499562"
	registerLng = "102.182324"

	codeOK = 2000
)

type Config struct {
	BaseURL     string
	StaticURL   string
	H5URL       string
	AppStoreURL string
	Timeout     time.Duration

	// Sustained outbound requests per second; bursts of 2 allowed.
	RatePerSec float64
}

type Client struct {
	hc        *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
	version   *versionSource
	baseURL   string
	staticURL string
	h5URL     string

	// shop id -> metadata from the resource feed, swapped atomically by
	// RefreshShopMeta.
	shopMeta atomic.Value
}

func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.StaticURL == "" {
		cfg.StaticURL = defaultStaticURL
	}
	if cfg.H5URL == "" {
		cfg.H5URL = defaultH5URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	c := &Client{
		hc:        hc,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), 2),
		log:       log.With().Str("component", "moutai").Logger(),
		version:   newVersionSource(cfg.AppStoreURL, hc),
		baseURL:   cfg.BaseURL,
		staticURL: cfg.StaticURL,
		h5URL:     cfg.H5URL,
	}
	c.shopMeta.Store(map[string]shopMeta{})
	return c
}

// AppVersion returns the cached client-version header value.
func (c *Client) AppVersion() string { return c.version.Current() }

// RefreshAppVersion re-scrapes the version source, at most once per day
// unless forced. Failure keeps the last-known value.
func (c *Client) RefreshAppVersion(force bool) string {
	v, err := c.version.Refresh(force)
	if err != nil {
		c.log.Warn().Err(err).Str("fallback", v).Msg("app version lookup failed, keeping last-known")
	}
	return v
}

// statusCode accepts the remote's status field as either a JSON string or
// number; both forms occur across endpoints.
type statusCode int

func (s *statusCode) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("status code %q is not numeric", raw)
	}
	*s = statusCode(n)
	return nil
}

type envelope struct {
	Code    statusCode      `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RequestVerificationCode asks the remote to text a login code to mobile.
func (c *Client) RequestVerificationCode(ctx context.Context, mobile, deviceID string) error {
	ts := time.Now().UnixMilli()
	body := map[string]string{
		"mobile":    mobile,
		"md5":       SignSendCode(mobile, ts),
		"timestamp": strconv.FormatInt(ts, 10),
	}

	env, err := c.postJSON(ctx, c.baseURL+"/xhr/front/user/register/vcode", body, c.registerHeaders(deviceID))
	if err != nil {
		return err
	}
	if int(env.Code) != codeOK {
		return &RemoteBusinessError{Code: int(env.Code), Message: env.Message}
	}
	return nil
}

// LoginResult is the remote session issued for an account.
type LoginResult struct {
	UserID string
	Token  string
	Cookie string
}

// Authenticate exchanges a verification code for a session token.
func (c *Client) Authenticate(ctx context.Context, mobile, code, deviceID string) (LoginResult, error) {
	ts := time.Now().UnixMilli()
	body := map[string]string{
		"mobile":         mobile,
		"vCode":          code,
		"ydToken":        "",
		"ydLogId":        "",
		"md5":            SignLogin(mobile, code, ts),
		"timestamp":      strconv.FormatInt(ts, 10),
		"MT-APP-Version": c.version.Current(),
	}

	env, err := c.postJSON(ctx, c.baseURL+"/xhr/front/user/register/login", body, c.registerHeaders(deviceID))
	if err != nil {
		return LoginResult{}, err
	}
	if int(env.Code) != codeOK {
		return LoginResult{}, &AuthError{Message: env.Message}
	}

	var data struct {
		UserID json.Number `json:"userId"`
		Token  string      `json:"token"`
		Cookie string      `json:"cookie"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return LoginResult{}, fmt.Errorf("decode login payload: %w", err)
	}
	if data.Token == "" {
		return LoginResult{}, &AuthError{Message: "login accepted but no token issued"}
	}
	return LoginResult{UserID: data.UserID.String(), Token: data.Token, Cookie: data.Cookie}, nil
}

// Item is one catalog entry for today's session.
type Item struct {
	Code       string      `json:"itemId"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	PictureURL string      `json:"picture"`
	Price      json.Number `json:"price"`
}

// CatalogSession scopes which items and shops are valid right now. The
// session id rotates, so callers fetch a fresh one per account run.
type CatalogSession struct {
	SessionID string
	Items     []Item
}

func (c *Client) CatalogSession(ctx context.Context) (CatalogSession, error) {
	url := fmt.Sprintf("%s/mt-backend/xhr/front/mall/index/session/get/%d", c.staticURL, dayMillis(time.Now()))

	env, err := c.getJSON(ctx, url, nil)
	if err != nil {
		return CatalogSession{}, err
	}
	if int(env.Code) != codeOK {
		return CatalogSession{}, &RemoteBusinessError{Code: int(env.Code), Message: env.Message}
	}

	var data struct {
		SessionID json.Number `json:"sessionId"`
		ItemList  []Item      `json:"itemList"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return CatalogSession{}, fmt.Errorf("decode catalog session: %w", err)
	}
	return CatalogSession{SessionID: data.SessionID.String(), Items: data.ItemList}, nil
}

type shopMeta struct {
	Name     string      `json:"name"`
	Province string      `json:"provinceName"`
	City     string      `json:"cityName"`
	Lat      json.Number `json:"lat"`
	Lng      json.Number `json:"lng"`
}

// RefreshShopMeta downloads the static shop resource feed and swaps the
// metadata map used to hydrate ListShops results with names and
// coordinates.
func (c *Client) RefreshShopMeta(ctx context.Context) error {
	env, err := c.getJSON(ctx, c.staticURL+"/mt-backend/xhr/front/mall/resource/get", nil)
	if err != nil {
		return err
	}
	var data struct {
		MtShopsPC struct {
			URL string `json:"url"`
		} `json:"mtshops_pc"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode shop resource pointer: %w", err)
	}
	if data.MtShopsPC.URL == "" {
		return &RemoteBusinessError{Message: "shop resource feed has no url"}
	}

	status, body, err := c.do(ctx, http.MethodGet, data.MtShopsPC.URL, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteBusinessError{Code: status, Message: "shop resource fetch failed"}
	}

	var feed map[string]shopMeta
	if err := json.Unmarshal(body, &feed); err != nil {
		return fmt.Errorf("decode shop resource feed: %w", err)
	}
	c.shopMeta.Store(feed)
	c.log.Info().Int("shops", len(feed)).Msg("shop metadata refreshed")
	return nil
}

func (c *Client) meta(shopID string) (shopMeta, bool) {
	m, _ := c.shopMeta.Load().(map[string]shopMeta)
	sm, ok := m[shopID]
	return sm, ok
}

// ListShops returns today's candidate shops for an item in a region. The
// region name is normalized to its official administrative form before
// the call. A not-found response means the session id went stale and maps
// to SessionExpiredError so the caller can refresh and retry once.
func (c *Client) ListShops(ctx context.Context, sessionID, regionName, itemCode string) ([]reservation.Shop, error) {
	province := region.Normalize(regionName)
	url := fmt.Sprintf("%s/mt-backend/xhr/front/mall/shop/list/slim/v3/%s/%s/%s/%d",
		c.staticURL, sessionID, province, itemCode, dayMillis(time.Now()))

	status, body, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &SessionExpiredError{SessionID: sessionID}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode shop list: %w", err)
	}
	if int(env.Code) == http.StatusNotFound {
		return nil, &SessionExpiredError{SessionID: sessionID}
	}
	if int(env.Code) != codeOK {
		return nil, &RemoteBusinessError{Code: int(env.Code), Message: env.Message}
	}

	var data struct {
		Shops []struct {
			ShopID string `json:"shopId"`
			Items  []struct {
				ItemID    string `json:"itemId"`
				Inventory int    `json:"inventory"`
			} `json:"items"`
		} `json:"shops"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode shop list payload: %w", err)
	}

	shops := make([]reservation.Shop, 0, len(data.Shops))
	for _, s := range data.Shops {
		shop := reservation.Shop{ID: s.ShopID, Inventory: make(map[string]int, len(s.Items))}
		for _, it := range s.Items {
			shop.Inventory[it.ItemID] = it.Inventory
		}
		if m, ok := c.meta(s.ShopID); ok {
			shop.Name = m.Name
			shop.Province = m.Province
			shop.City = m.City
			shop.Lat, _ = m.Lat.Float64()
			shop.Lng, _ = m.Lng.Float64()
		}
		shops = append(shops, shop)
	}
	return shops, nil
}

// SubmitRequest carries everything a submission call needs from the
// account and the current session.
type SubmitRequest struct {
	UserID    string
	Token     string
	DeviceID  string
	ItemCode  string
	ShopID    string
	SessionID string
	Lat       string
	Lng       string
}

// SubmitResult is the remote's answer to a submission. A business
// rejection is a signaled outcome, not an error; the caller decides
// whether it constitutes a logged failure.
type SubmitResult struct {
	Code    int
	Message string
	Raw     []byte
}

func (r SubmitResult) OK() bool { return r.Code == codeOK }

type submitBody struct {
	ItemInfoList []submitItem `json:"itemInfoList"`
	SessionID    string       `json:"sessionId"`
	UserID       string       `json:"userId"`
	ShopID       string       `json:"shopId"`
	ActParam     string       `json:"actParam,omitempty"`
}

type submitItem struct {
	Count  int    `json:"count"`
	ItemID string `json:"itemId"`
}

// SubmitReservation places one reservation for one item at one shop.
// Only transport failures return an error.
func (c *Client) SubmitReservation(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body := submitBody{
		ItemInfoList: []submitItem{{Count: 1, ItemID: req.ItemCode}},
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		ShopID:       req.ShopID,
	}
	plain, err := json.Marshal(body)
	if err != nil {
		return SubmitResult{}, err
	}
	body.ActParam, err = EncryptActParam(string(plain))
	if err != nil {
		return SubmitResult{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SubmitResult{}, err
	}

	headers := map[string]string{
		"MT-Lat":         req.Lat,
		"MT-Lng":         req.Lng,
		"MT-Token":       req.Token,
		"MT-Info":        mtInfo,
		"MT-Device-ID":   req.DeviceID,
		"MT-APP-Version": c.version.Current(),
		"MT-Request-ID":  requestID(),
		"userId":         req.UserID,
	}
	status, raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/xhr/front/mall/reservation/add", payload, headers)
	if err != nil {
		return SubmitResult{}, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SubmitResult{Code: status, Message: "unparseable response", Raw: raw}, nil
	}
	return SubmitResult{Code: int(env.Code), Message: env.Message, Raw: raw}, nil
}

// Outcome statuses reported by the reservation list query.
const (
	OutcomeStatusPending = 1
	OutcomeStatusWon     = 2
	OutcomeStatusLost    = 3
)

// Outcome is one per-item lottery result for an account.
type Outcome struct {
	ItemCode string `json:"itemId"`
	ItemName string `json:"itemName"`
	ShopName string `json:"shopName"`
	Status   int    `json:"status"`

	// ReserveDate is derived from reservationTime millis; Raw keeps the
	// original entry for attempt logging.
	ReserveDate time.Time       `json:"-"`
	Raw         json.RawMessage `json:"-"`
}

// QueryOutcomes lists today's known results for an account. No data is an
// empty list, never an error.
func (c *Client) QueryOutcomes(ctx context.Context, token, deviceID string) ([]Outcome, error) {
	headers := map[string]string{
		"MT-Token":       token,
		"MT-Device-ID":   deviceID,
		"MT-APP-Version": c.version.Current(),
		"MT-Request-ID":  requestID(),
	}
	env, err := c.getJSON(ctx, c.baseURL+"/xhr/front/mall/reservation/list/pageOne/query", headers)
	if err != nil {
		return nil, err
	}
	if int(env.Code) != codeOK {
		return nil, nil
	}

	var data struct {
		ReservationItemVOS []json.RawMessage `json:"reservationItemVOS"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}

	outcomes := make([]Outcome, 0, len(data.ReservationItemVOS))
	for _, raw := range data.ReservationItemVOS {
		var o Outcome
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode outcome entry: %w", err)
		}
		var ts struct {
			ReservationTime int64 `json:"reservationTime"`
		}
		if err := json.Unmarshal(raw, &ts); err == nil && ts.ReservationTime > 0 {
			o.ReserveDate = reservation.Day(time.UnixMilli(ts.ReservationTime))
		} else {
			o.ReserveDate = reservation.Day(time.Now())
		}
		o.Raw = raw
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// BeginSideQuest starts the daily bonus activity for an account.
// Best-effort: callers log failures and move on.
func (c *Client) BeginSideQuest(ctx context.Context, cookie, deviceID string) error {
	return c.h5Post(ctx, "/game/xmTravel/startTravel", cookie, deviceID, "", "")
}

// ClaimSideReward collects the bonus-activity reward.
func (c *Client) ClaimSideReward(ctx context.Context, cookie, deviceID, lat, lng string) error {
	return c.h5Post(ctx, "/game/xmTravel/receiveReward", cookie, deviceID, lat, lng)
}

// ClaimParticipationAward collects the per-submission participation
// award.
func (c *Client) ClaimParticipationAward(ctx context.Context, cookie, deviceID, lat, lng string) error {
	return c.h5Post(ctx, "/game/isolationPage/getUserEnergyAward", cookie, deviceID, lat, lng)
}

func (c *Client) h5Post(ctx context.Context, path, cookie, deviceID, lat, lng string) error {
	headers := map[string]string{
		"MT-Device-ID":   deviceID,
		"MT-APP-Version": c.version.Current(),
		"MT-Request-ID":  requestID(),
		"Cookie":         fmt.Sprintf("MT-Token-Wap=%s;MT-Device-ID-Wap=%s;", cookie, deviceID),
	}
	if lat != "" {
		headers["MT-Lat"] = lat
		headers["MT-Lng"] = lng
	}
	env, err := c.postJSON(ctx, c.h5URL+path, struct{}{}, headers)
	if err != nil {
		return err
	}
	if int(env.Code) != codeOK {
		return &RemoteBusinessError{Code: int(env.Code), Message: env.Message}
	}
	return nil
}

func (c *Client) registerHeaders(deviceID string) map[string]string {
	return map[string]string{
		"MT-Lat":          registerLat,
		"MT-Lng":          registerLng,
		"MT-K":            mtK,
		"MT-User-Tag":     "0",
		"MT-Network-Type": "WIFI",
		"MT-Team-ID":      "",
		"MT-Info":         mtInfo,
		"MT-Device-ID":    deviceID,
		"MT-Bundle-ID":    bundleID,
		"MT-Request-ID":   requestID(),
		"MT-APP-Version":  c.version.Current(),
		"MT-R":            mtR,
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body any, headers map[string]string) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, err
	}
	status, raw, err := c.do(ctx, http.MethodPost, url, payload, headers)
	if err != nil {
		return envelope{}, err
	}
	return decodeEnvelope(status, raw)
}

func (c *Client) getJSON(ctx context.Context, url string, headers map[string]string) (envelope, error) {
	status, raw, err := c.do(ctx, http.MethodGet, url, nil, headers)
	if err != nil {
		return envelope{}, err
	}
	return decodeEnvelope(status, raw)
}

func decodeEnvelope(status int, raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, &RemoteBusinessError{Code: status, Message: "unparseable response"}
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &NetworkError{Op: method + " " + url, Err: err}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-Hans-CN;q=1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: "read " + url, Err: err}
	}
	return resp.StatusCode, raw, nil
}

func requestID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func dayMillis(t time.Time) int64 {
	return reservation.Day(t).UnixMilli()
}

// Package notify delivers WeChat subscribe messages for the three
// template categories. Delivery is best-effort everywhere: failures are
// reported to the caller for logging and never block the engine.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Template categories.
const (
	CategorySubmissionComplete = "submission-complete"
	CategoryWin                = "win"
	CategoryExpiryReminder     = "expiry-reminder"
)

type Templates struct {
	SubmissionComplete string `yaml:"submission_complete"`
	Win                string `yaml:"win"`
	ExpiryReminder     string `yaml:"expiry_reminder"`
}

type Config struct {
	AppID  string
	Secret string

	// Base URL of the WeChat API, overridable for tests.
	APIBaseURL string

	Templates Templates

	// Recipient openid per owning user id. User identity lives outside
	// this system; the mapping is operator-provided configuration.
	OpenIDs map[int64]string

	Timeout time.Duration
}

// accessToken is the explicit cache value for the WeChat credential:
// token plus expiry, guarded by the service mutex and refreshed lazily
// five minutes early.
type accessToken struct {
	value   string
	expires time.Time
}

type Service struct {
	hc  *http.Client
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu    sync.Mutex
	token accessToken
}

func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.weixin.qq.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		hc:  &http.Client{Timeout: cfg.Timeout},
		cfg: cfg,
		log: log.With().Str("component", "notify").Logger(),
		now: time.Now,
	}
}

func (s *Service) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.value != "" && s.now().Before(s.token.expires) {
		return s.token.value, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", s.cfg.AppID)
	q.Set("secret", s.cfg.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL+"/cgi-bin/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: %s", body.ErrMsg)
	}

	s.token = accessToken{
		value:   body.AccessToken,
		expires: s.now().Add(time.Duration(body.ExpiresIn-300) * time.Second),
	}
	return s.token.value, nil
}

func (s *Service) send(ctx context.Context, userID int64, templateID, page string, data map[string]string) error {
	openID, ok := s.cfg.OpenIDs[userID]
	if !ok || openID == "" {
		return fmt.Errorf("no openid configured for user %d", userID)
	}
	if templateID == "" {
		return fmt.Errorf("template id not configured")
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	wrapped := make(map[string]map[string]string, len(data))
	for k, v := range data {
		wrapped[k] = map[string]string{"value": v}
	}
	payload, err := json.Marshal(map[string]any{
		"touser":            openID,
		"template_id":       templateID,
		"page":              page,
		"data":              wrapped,
		"miniprogram_state": "formal",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.APIBaseURL+"/cgi-bin/message/subscribe/send?access_token="+url.QueryEscape(token),
		strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("send subscribe message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode send result: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("subscribe message rejected: %s (errcode=%d)", result.ErrMsg, result.ErrCode)
	}
	return nil
}

// SubmissionComplete tells a user their daily submissions went in; sent
// once per account per run.
func (s *Service) SubmissionComplete(ctx context.Context, userID int64, itemCount int, submittedAt time.Time) error {
	return s.send(ctx, userID, s.cfg.Templates.SubmissionComplete, "/pages/logs/list", map[string]string{
		"thing1":  fmt.Sprintf("%d个商品", itemCount),
		"date2":   submittedAt.Format("2006-01-02 15:04"),
		"phrase3": "已提交",
		"thing4":  "请在18:00后查看结果",
	})
}

// Win announces a lottery win; one per attempt promotion.
func (s *Service) Win(ctx context.Context, userID int64, itemName, shopName string) error {
	if itemName == "" {
		itemName = "茅台酒"
	}
	if shopName == "" {
		shopName = "指定门店"
	}
	return s.send(ctx, userID, s.cfg.Templates.Win, "/pages/index/index", map[string]string{
		"thing1": truncateRunes(itemName, 20),
		"thing2": truncateRunes(shopName, 20),
		"date3":  "次日18:00前",
		"date4":  "7天内",
	})
}

// ExpiryReminder warns that an account session is close to expiry.
func (s *Service) ExpiryReminder(ctx context.Context, userID int64, mobile string, expires time.Time) error {
	tail := mobile
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return s.send(ctx, userID, s.cfg.Templates.ExpiryReminder, "/pages/accounts/list", map[string]string{
		"thing1":  "账号" + tail,
		"date2":   expires.Format("2006-01-02"),
		"phrase3": "即将过期",
		"thing4":  "请及时重新登录",
	})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

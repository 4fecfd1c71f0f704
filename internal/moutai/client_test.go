package moutai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/moutai-scheduler/internal/domain/reservation"
)

func testClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL,
		StaticURL:  srv.URL,
		H5URL:      srv.URL,
		RatePerSec: 1000,
	}, zerolog.Nop())
}

func TestRequestVerificationCode(t *testing.T) {
	var got struct {
		Mobile    string `json:"mobile"`
		MD5       string `json:"md5"`
		Timestamp string `json:"timestamp"`
	}
	var header http.Header
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xhr/front/user/register/vcode", r.URL.Path)
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"code":2000,"message":"success"}`)
	}))

	err := c.RequestVerificationCode(context.Background(), "13800138000", "dev-1")
	require.NoError(t, err)

	assert.Equal(t, "13800138000", got.Mobile)
	assert.NotEmpty(t, got.Timestamp)
	assert.Len(t, got.MD5, 32, "md5 signature is 32 hex chars")
	assert.Equal(t, "dev-1", header.Get("MT-Device-ID"))
	assert.NotEmpty(t, header.Get("MT-Request-ID"))
	assert.NotEmpty(t, header.Get("MT-APP-Version"))
}

func TestRequestVerificationCodeBusinessRejection(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":4001,"message":"请求过于频繁"}`)
	}))

	err := c.RequestVerificationCode(context.Background(), "13800138000", "dev-1")
	var be *RemoteBusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 4001, be.Code)
	assert.Equal(t, "请求过于频繁", be.Message)
}

func TestRequestVerificationCodeNetworkError(t *testing.T) {
	c := New(Config{
		BaseURL:    "http://127.0.0.1:1",
		RatePerSec: 1000,
	}, zerolog.Nop())

	err := c.RequestVerificationCode(context.Background(), "13800138000", "dev-1")
	var ne *NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestAuthenticate(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xhr/front/user/register/login", r.URL.Path)
		fmt.Fprint(w, `{"code":2000,"data":{"userId":123456,"token":"tok-1","cookie":"ck-1"}}`)
	}))

	res, err := c.Authenticate(context.Background(), "13800138000", "9999", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "123456", res.UserID)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "ck-1", res.Cookie)
}

func TestAuthenticateInvalidCode(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":4002,"message":"验证码错误"}`)
	}))

	_, err := c.Authenticate(context.Background(), "13800138000", "0000", "dev-1")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "验证码错误")
}

func TestCatalogSessionAcceptsStringAndNumericCode(t *testing.T) {
	for _, code := range []string{`"2000"`, `2000`} {
		code := code
		t.Run(code, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.True(t, strings.HasPrefix(r.URL.Path, "/mt-backend/xhr/front/mall/index/session/get/"))
				fmt.Fprintf(w, `{"code":%s,"data":{"sessionId":488,"itemList":[
					{"itemId":"10213","title":"贵州茅台酒（珍品）","content":"53度 500ml","picture":"https://img/10213.png","price":4599},
					{"itemId":"10214","title":"飞天53度","content":"500ml","picture":"https://img/10214.png","price":1499}
				]}}`, code)
			}))

			sess, err := c.CatalogSession(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "488", sess.SessionID)
			require.Len(t, sess.Items, 2)
			assert.Equal(t, "10213", sess.Items[0].Code)
			assert.Equal(t, "贵州茅台酒（珍品）", sess.Items[0].Title)
		})
	}
}

func TestCatalogSessionFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"5000","message":"maintenance"}`)
	}))

	_, err := c.CatalogSession(context.Background())
	var be *RemoteBusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 5000, be.Code)
}

func shopListHandler(t *testing.T, wantProvince string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/mt-backend/xhr/front/mall/resource/get":
			fmt.Fprintf(w, `{"code":2000,"data":{"mtshops_pc":{"url":"http://%s/feed"}}}`, r.Host)
		case r.URL.Path == "/feed":
			fmt.Fprint(w, `{
				"s1":{"name":"一号店","provinceName":"贵州省","cityName":"贵阳市","lat":26.60,"lng":106.70},
				"s2":{"name":"二号店","provinceName":"贵州省","cityName":"遵义市","lat":27.70,"lng":106.90}
			}`)
		case strings.HasPrefix(r.URL.Path, "/mt-backend/xhr/front/mall/shop/list/slim/v3/"):
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/mt-backend/xhr/front/mall/shop/list/slim/v3/"), "/")
			require.Len(t, parts, 4)
			assert.Equal(t, wantProvince, parts[1])
			fmt.Fprint(w, `{"code":"2000","data":{"shops":[
				{"shopId":"s1","items":[{"itemId":"10213","inventory":3}]},
				{"shopId":"s2","items":[{"itemId":"10213","inventory":7},{"itemId":"10214","inventory":1}]}
			]}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
}

func TestListShopsNormalizesRegionAndHydratesMeta(t *testing.T) {
	c := testClient(t, shopListHandler(t, "贵州省"))
	require.NoError(t, c.RefreshShopMeta(context.Background()))

	shops, err := c.ListShops(context.Background(), "488", "贵州", "10213")
	require.NoError(t, err)
	require.Len(t, shops, 2)
	assert.Equal(t, "一号店", shops[0].Name)
	assert.Equal(t, 3, shops[0].Inventory["10213"])
	assert.Equal(t, "二号店", shops[1].Name)
	assert.Equal(t, 7, shops[1].Inventory["10213"])
	assert.InDelta(t, 27.70, shops[1].Lat, 0.001)
}

func TestListShopsWithoutMetaStillReturnsCandidates(t *testing.T) {
	c := testClient(t, shopListHandler(t, "北京市"))

	shops, err := c.ListShops(context.Background(), "488", "北京", "10213")
	require.NoError(t, err)
	require.Len(t, shops, 2)
	assert.Empty(t, shops[0].Name)
}

func TestListShopsSessionExpired(t *testing.T) {
	t.Run("http 404", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		_, err := c.ListShops(context.Background(), "488", "贵州", "10213")
		var se *SessionExpiredError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "488", se.SessionID)
	})

	t.Run("body code 404", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":"404","message":"not found"}`)
		}))
		_, err := c.ListShops(context.Background(), "488", "贵州", "10213")
		var se *SessionExpiredError
		assert.ErrorAs(t, err, &se)
	})
}

func TestSubmitReservation(t *testing.T) {
	var body submitBody
	var header http.Header
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xhr/front/mall/reservation/add", r.URL.Path)
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"code":2000,"message":"预约成功"}`)
	}))

	res, err := c.SubmitReservation(context.Background(), SubmitRequest{
		UserID:    "123456",
		Token:     "tok-1",
		DeviceID:  "dev-1",
		ItemCode:  "10213",
		ShopID:    "233331084001",
		SessionID: "488",
		Lat:       "26.65",
		Lng:       "106.63",
	})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "预约成功", res.Message)

	assert.Equal(t, "tok-1", header.Get("MT-Token"))
	assert.Equal(t, "26.65", header.Get("MT-Lat"))
	assert.Equal(t, "123456", header.Get("userId"))

	require.Len(t, body.ItemInfoList, 1)
	assert.Equal(t, "10213", body.ItemInfoList[0].ItemID)
	assert.Equal(t, 1, body.ItemInfoList[0].Count)

	// The encrypted echo decrypts back to the plaintext fields.
	require.NotEmpty(t, body.ActParam)
	plain, err := DecryptActParam(body.ActParam)
	require.NoError(t, err)
	var echo submitBody
	require.NoError(t, json.Unmarshal([]byte(plain), &echo))
	assert.Equal(t, body.ShopID, echo.ShopID)
	assert.Equal(t, body.SessionID, echo.SessionID)
	assert.Empty(t, echo.ActParam)
}

func TestSubmitReservationBusinessRejectionIsNotAnError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":4003,"message":"当日已预约"}`)
	}))

	res, err := c.SubmitReservation(context.Background(), SubmitRequest{ItemCode: "10213"})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 4003, res.Code)
	assert.Equal(t, "当日已预约", res.Message)
}

func TestQueryOutcomes(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xhr/front/mall/reservation/list/pageOne/query", r.URL.Path)
		require.Equal(t, "tok-1", r.Header.Get("MT-Token"))
		fmt.Fprint(w, `{"code":2000,"data":{"reservationItemVOS":[
			{"itemId":"10213","itemName":"贵州茅台酒（珍品）","shopName":"一号店","status":2,"reservationTime":1756608540000},
			{"itemId":"10214","itemName":"飞天53度","shopName":"","status":1}
		]}}`)
	}))

	outs, err := c.QueryOutcomes(context.Background(), "tok-1", "dev-1")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, OutcomeStatusWon, outs[0].Status)
	assert.Equal(t, "一号店", outs[0].ShopName)
	assert.Equal(t, reservation.Day(time.UnixMilli(1756608540000)), outs[0].ReserveDate)
	assert.Contains(t, string(outs[0].Raw), `"itemId":"10213"`)
}

func TestQueryOutcomesNoDataIsEmptyNotError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":4004,"message":"暂无数据"}`)
	}))

	outs, err := c.QueryOutcomes(context.Background(), "tok-1", "dev-1")
	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestSideQuestCalls(t *testing.T) {
	var paths []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Contains(t, r.Header.Get("Cookie"), "MT-Token-Wap=ck-1")
		fmt.Fprint(w, `{"code":2000}`)
	}))

	ctx := context.Background()
	require.NoError(t, c.BeginSideQuest(ctx, "ck-1", "dev-1"))
	require.NoError(t, c.ClaimSideReward(ctx, "ck-1", "dev-1", "26.65", "106.63"))
	require.NoError(t, c.ClaimParticipationAward(ctx, "ck-1", "dev-1", "26.65", "106.63"))

	assert.Equal(t, []string{
		"/game/xmTravel/startTravel",
		"/game/xmTravel/receiveReward",
		"/game/isolationPage/getUserEnergyAward",
	}, paths)
}

func TestSideQuestRejection(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":4005,"message":"活动未开始"}`)
	}))

	err := c.BeginSideQuest(context.Background(), "ck-1", "dev-1")
	var be *RemoteBusinessError
	assert.ErrorAs(t, err, &be)
}

func TestStatusCodeUnmarshal(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{`2000`, 2000, false},
		{`"2000"`, 2000, false},
		{`"404"`, 404, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		var s statusCode
		err := json.Unmarshal([]byte(tt.raw), &s)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, int(s), tt.raw)
	}
}

func TestAppVersionRefreshAndFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><p class="l-column small-6 medium-12 whats-new__latest__version">版本 1.9.2</p></html>`)
	}))
	defer srv.Close()

	c := New(Config{AppStoreURL: srv.URL, RatePerSec: 1000}, zerolog.Nop())
	assert.Equal(t, defaultAppVersion, c.AppVersion())

	got := c.RefreshAppVersion(true)
	assert.Equal(t, "1.9.2", got)
	assert.Equal(t, "1.9.2", c.AppVersion())

	// A failing source keeps the last-known value.
	srv.Close()
	got = c.RefreshAppVersion(true)
	assert.Equal(t, "1.9.2", got)
}

func TestAppVersionRefreshIsDailyUnlessForced(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `<p class="whats-new__latest__version">版本 1.9.%d</p>`, calls)
	}))
	defer srv.Close()

	c := New(Config{AppStoreURL: srv.URL, RatePerSec: 1000}, zerolog.Nop())
	c.RefreshAppVersion(true)
	c.RefreshAppVersion(false) // within the daily window, no fetch
	assert.Equal(t, 1, calls)
	assert.Equal(t, "1.9.1", c.AppVersion())
}

func TestSubmitResultRawPreserved(t *testing.T) {
	raw := `{"code":2000,"message":"ok","data":{"reservationId":"r-1"}}`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, raw)
	}))

	res, err := c.SubmitReservation(context.Background(), SubmitRequest{ItemCode: "10213"})
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(res.Raw))
}

func TestNetworkErrorUnwraps(t *testing.T) {
	inner := errors.New("dial refused")
	err := &NetworkError{Op: "GET /x", Err: inner}
	assert.ErrorIs(t, err, inner)
}

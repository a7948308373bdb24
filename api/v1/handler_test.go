// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitorstats/internal"
	"visitorstats/internal/http/middleware"
	"visitorstats/internal/responsecache"
	"visitorstats/internal/testsupport"
)

const allowedOrigin = "https://blog.example"

// gifPixel is the exact body of the 1x1 tracking pixel.
var gifPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupApp(t *testing.T) (*fiber.App, *gorm.DB, *testClock) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	testsupport.AllowOrigins(t, db, allowedOrigin)

	clock := &testClock{now: testsupport.FixedNow}
	app := testsupport.CreateTestApp(t, db, internal.RouteOptions{
		Cache: responsecache.NewDatabase(db, testsupport.GetLogger(), clock.Now),
		Now:   clock.Now,
	})
	return app, db, clock
}

func doRequest(t *testing.T, app *fiber.App, method, target string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func logVisit(t *testing.T, app *fiber.App, path, address string) {
	t.Helper()

	resp, body := doRequest(t, app, "GET", "/log?path="+path, map[string]string{
		"Origin":           allowedOrigin,
		"CF-Connecting-IP": address,
		"User-Agent":       "Mozilla/5.0 (Test Agent)",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestLogVisitHandler(t *testing.T) {
	t.Run("answers the tracking pixel", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/log?path=/post/hello", map[string]string{
			"Origin":           allowedOrigin,
			"CF-Connecting-IP": "1.2.3.4",
		})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.Equal(t, middleware.CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, gifPixel, body)
	})

	t.Run("accepts POST", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, _ := doRequest(t, app, "POST", "/log?path=/about", map[string]string{
			"Origin": allowedOrigin,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("accepts cross-site browser requests", func(t *testing.T) {
		app, db, _ := setupApp(t)

		for _, method := range []string{"GET", "POST"} {
			resp, body := doRequest(t, app, method, "/log?path=/post/hello", map[string]string{
				"Origin":         allowedOrigin,
				"Sec-Fetch-Site": "cross-site",
				"Sec-Fetch-Mode": "no-cors",
			})
			assert.Equal(t, http.StatusOK, resp.StatusCode, method)
			assert.Equal(t, gifPixel, body, method)
			assert.Equal(t, "cross-origin", resp.Header.Get("Cross-Origin-Resource-Policy"), method)
		}

		var count int64
		require.NoError(t, db.Table("visits").Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("stores the visit with the hashed address and country", func(t *testing.T) {
		app, db, _ := setupApp(t)

		resp, _ := doRequest(t, app, "GET", "/log?path=/post/hello/", map[string]string{
			"Referer":          allowedOrigin + "/post/hello",
			"CF-Connecting-IP": "1.2.3.4",
			"CF-IPCountry":     "de",
			"User-Agent":       "Agent/1.0",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var row struct {
			PagePath  string
			IPHash    string
			UserAgent string
			Referer   string
			Country   string
			VisitTime int64
		}
		require.NoError(t, db.Table("visits").First(&row).Error)
		assert.Equal(t, "/post/hello", row.PagePath)
		assert.Len(t, row.IPHash, 16)
		assert.NotContains(t, row.IPHash, "1.2.3.4")
		assert.Equal(t, "Agent/1.0", row.UserAgent)
		assert.Equal(t, allowedOrigin+"/post/hello", row.Referer)
		assert.Equal(t, "DE", row.Country)
		assert.Equal(t, testsupport.FixedNow.UnixMilli(), row.VisitTime)
	})

	t.Run("rejects origins outside the allow-list", func(t *testing.T) {
		app, db, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/log?path=/post/hello", map[string]string{
			"Origin": "https://evil.example",
		})

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Origin not allowed", decode(t, body)["error"])
		assert.Equal(t, middleware.CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

		var count int64
		require.NoError(t, db.Table("visits").Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("rejects requests without origin or referer", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, _ := doRequest(t, app, "GET", "/log?path=/post/hello", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("wildcard allows every origin", func(t *testing.T) {
		app, db, _ := setupApp(t)
		testsupport.AllowOrigins(t, db, "*")

		resp, _ := doRequest(t, app, "GET", "/log?path=/post/hello", map[string]string{
			"Origin": "https://anyone.example",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestPageStatsHandler(t *testing.T) {
	t.Run("reports article and site counters", func(t *testing.T) {
		app, _, _ := setupApp(t)

		logVisit(t, app, "/post/hello", "1.2.3.4")

		resp, body := doRequest(t, app, "GET", "/page-stats?path=/post/hello", map[string]string{
			"Origin": allowedOrigin,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		report := decode(t, body)
		assert.Equal(t, "/post/hello", report["path"])
		assert.Equal(t, float64(1), report["articleTotal"])
		assert.Equal(t, float64(1), report["siteTotal"])
		assert.Equal(t, float64(1), report["siteUnique"])
		assert.Equal(t, float64(testsupport.FixedNow.UnixMilli()), report["articleLastUpdated"])

		logVisit(t, app, "/post/hello", "1.2.3.4")

		_, body = doRequest(t, app, "GET", "/page-stats?path=/post/hello", map[string]string{
			"Origin": allowedOrigin,
		})
		report = decode(t, body)
		assert.Equal(t, float64(2), report["articleTotal"])
		assert.Equal(t, float64(2), report["siteTotal"])
		assert.Equal(t, float64(1), report["siteUnique"], "the same address is one visitor")
	})

	t.Run("zero-fills an article never visited", func(t *testing.T) {
		app, _, _ := setupApp(t)

		_, body := doRequest(t, app, "GET", "/page-stats?path=/posts/unseen", map[string]string{
			"Origin": allowedOrigin,
		})
		report := decode(t, body)
		assert.Equal(t, float64(0), report["articleTotal"])
		assert.Nil(t, report["articleLastUpdated"])
		assert.Nil(t, report["siteLastUpdated"])
	})

	t.Run("rejects non-article paths", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/page-stats?path=/about", map[string]string{
			"Origin": allowedOrigin,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid path", decode(t, body)["error"])
	})

	t.Run("rejects other methods before checking the origin", func(t *testing.T) {
		app, _, _ := setupApp(t)

		for _, method := range []string{"POST", "DELETE"} {
			resp, body := doRequest(t, app, method, "/page-stats?path=/post/hello", map[string]string{
				"Origin": "https://evil.example",
			})
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, method)
			assert.Equal(t, "Method not allowed", decode(t, body)["error"])
			assert.Equal(t, middleware.CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"), method)
		}
	})

	t.Run("rejects other methods from cross-site browsers", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "DELETE", "/page-stats?path=/post/hello", map[string]string{
			"Origin":         allowedOrigin,
			"Sec-Fetch-Site": "cross-site",
		})
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "Method not allowed", decode(t, body)["error"])
		assert.Equal(t, middleware.CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestSiteTotalHandler(t *testing.T) {
	t.Run("serves the cached snapshot within the ttl", func(t *testing.T) {
		app, db, clock := setupApp(t)
		headers := map[string]string{"Origin": allowedOrigin}

		logVisit(t, app, "/post/hello", "1.2.3.4")

		resp, first := doRequest(t, app, "GET", "/total", headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(first))
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		assert.Equal(t, "public, max-age=60", resp.Header.Get("Cache-Control"))
		assert.Equal(t, float64(1), decode(t, first)["siteTotal"])

		require.Eventually(t, func() bool {
			var count int64
			db.Model(&responsecache.CacheEntry{}).Count(&count)
			return count == 1
		}, 5*time.Second, 10*time.Millisecond)

		logVisit(t, app, "/post/other", "5.6.7.8")

		clock.Advance(30 * time.Second)
		resp, second := doRequest(t, app, "GET", "/total", headers)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.True(t, bytes.Equal(first, second), "cached body must be byte-identical")

		clock.Advance(31 * time.Second)
		resp, third := doRequest(t, app, "GET", "/total", headers)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		report := decode(t, third)
		assert.Equal(t, float64(2), report["siteTotal"])
		assert.Equal(t, float64(2), report["siteUnique"])
	})

	t.Run("ignores the query string for the cache key", func(t *testing.T) {
		app, db, _ := setupApp(t)
		headers := map[string]string{"Origin": allowedOrigin}

		resp, _ := doRequest(t, app, "GET", "/total?cb=1", headers)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.Eventually(t, func() bool {
			var count int64
			db.Model(&responsecache.CacheEntry{}).Count(&count)
			return count == 1
		}, 5*time.Second, 10*time.Millisecond)

		resp, _ = doRequest(t, app, "GET", "/total?cb=2", headers)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	})

	t.Run("rejects POST", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, _ := doRequest(t, app, "POST", "/total", map[string]string{"Origin": allowedOrigin})
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		resp, _ = doRequest(t, app, "POST", "/total", map[string]string{
			"Origin":         allowedOrigin,
			"Sec-Fetch-Site": "cross-site",
		})
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestRealtimeStatsHandler(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer " + testsupport.TestAPIKey}

	t.Run("requires the api key", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/stats", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", decode(t, body)["error"])

		resp, _ = doRequest(t, app, "GET", "/stats", map[string]string{"Authorization": "Bearer wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("counts today's visits by default", func(t *testing.T) {
		app, _, _ := setupApp(t)

		logVisit(t, app, "/post/hello", "1.2.3.4")
		logVisit(t, app, "/post/hello", "1.2.3.4")
		logVisit(t, app, "/about", "5.6.7.8")

		resp, body := doRequest(t, app, "GET", "/stats", auth)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		report := decode(t, body)
		assert.Equal(t, "today", report["period"])
		assert.Equal(t, float64(3), report["total"])
		assert.Equal(t, float64(2), report["unique"])
		assert.NotContains(t, report, "path")
	})

	t.Run("filters by path", func(t *testing.T) {
		app, _, _ := setupApp(t)

		logVisit(t, app, "/post/hello", "1.2.3.4")
		logVisit(t, app, "/about", "5.6.7.8")

		_, body := doRequest(t, app, "GET", "/stats?period=all&path=/post/hello/", auth)
		report := decode(t, body)
		assert.Equal(t, "all", report["period"])
		assert.Equal(t, "/post/hello", report["path"])
		assert.Equal(t, float64(1), report["total"])
		assert.Equal(t, float64(1), report["unique"])
	})

	t.Run("excludes yesterday from today", func(t *testing.T) {
		app, _, clock := setupApp(t)

		logVisit(t, app, "/post/hello", "1.2.3.4")
		clock.Advance(24 * time.Hour)
		logVisit(t, app, "/post/hello", "5.6.7.8")

		_, body := doRequest(t, app, "GET", "/stats?period=today", auth)
		assert.Equal(t, float64(1), decode(t, body)["total"])

		_, body = doRequest(t, app, "GET", "/stats?period=all", auth)
		assert.Equal(t, float64(2), decode(t, body)["total"])
	})
}

func TestAuxiliaryRoutes(t *testing.T) {
	t.Run("health reports ok", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", decode(t, body)["status"])
	})

	t.Run("preflight answers 204 with CORS headers", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, _ := doRequest(t, app, "OPTIONS", "/log", map[string]string{"Origin": "https://evil.example"})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, middleware.CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, middleware.CORSAllowMethods, resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, middleware.CORSAllowHeaders, resp.Header.Get("Access-Control-Allow-Headers"))
	})

	t.Run("unknown paths answer the banner", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, body := doRequest(t, app, "GET", "/nothing/here", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Visitor Stats Worker", string(body))

		resp, body = doRequest(t, app, "POST", "/nothing/here", map[string]string{"Sec-Fetch-Site": "cross-site"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Visitor Stats Worker", string(body))
	})

	t.Run("health and stats accept POST", func(t *testing.T) {
		app, _, _ := setupApp(t)

		resp, _ := doRequest(t, app, "POST", "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := doRequest(t, app, "POST", "/stats", map[string]string{
			"Authorization":  "Bearer " + testsupport.TestAPIKey,
			"Sec-Fetch-Site": "cross-site",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	})
}

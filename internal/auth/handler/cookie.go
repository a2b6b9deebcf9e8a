package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RefreshCookieName is the cookie that carries the refresh token between browser and API.
const RefreshCookieName = "refreshToken"

// CookieConfig controls the refresh cookie attributes.
type CookieConfig struct {
	// Production switches to SameSite=None; Secure for cross-site front ends.
	Production bool
	MaxAge     time.Duration
}

func (cc CookieConfig) sameSite() http.SameSite {
	if cc.Production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (cc CookieConfig) set(c *gin.Context, token string) {
	c.SetSameSite(cc.sameSite())
	c.SetCookie(RefreshCookieName, token, int(cc.MaxAge/time.Second), "/", "", cc.Production, true)
}

func (cc CookieConfig) clear(c *gin.Context) {
	c.SetSameSite(cc.sameSite())
	c.SetCookie(RefreshCookieName, "", -1, "/", "", cc.Production, true)
}

func refreshFromCookie(c *gin.Context) string {
	v, err := c.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return v
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/rooms/:id/route", func(c *gin.Context) {
		switch c.Param("id") {
		case "room-1":
			c.JSON(http.StatusOK, routeResponse{URL: "wss://sfu-1.example/room-1"})
		case "empty":
			c.JSON(http.StatusOK, routeResponse{})
		case "broken":
			c.Status(http.StatusInternalServerError)
		default:
			c.Status(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRouteLookupResolves(t *testing.T) {
	srv := routeServer(t)
	l := NewRouteLookup(srv.URL+"/", "", time.Second)

	url, err := l.Resolve(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "wss://sfu-1.example/room-1", url)
}

func TestRouteLookupFailures(t *testing.T) {
	srv := routeServer(t)
	l := NewRouteLookup(srv.URL, "", time.Second)

	_, err := l.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = l.Resolve(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = l.Resolve(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	_, err = l.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouteLookupStaticURL(t *testing.T) {
	l := NewRouteLookup("http://127.0.0.1:1", "ws://fixed.example/signal", time.Second)

	url, err := l.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "ws://fixed.example/signal", url)
}

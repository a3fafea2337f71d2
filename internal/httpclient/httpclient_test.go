package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	c := WithTimeout(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.NotSame(t, Default().Transport, c.Transport)
}

func TestForProxy_empty(t *testing.T) {
	c, err := ForProxy("", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Timeout)
}

func TestForProxy_httpRoutesThroughProxy(t *testing.T) {
	var gotURL string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte("via proxy"))
	}))
	defer proxySrv.Close()

	c, err := ForProxy(proxySrv.URL, 5*time.Second)
	require.NoError(t, err)
	resp, err := c.Get("http://panel.invalid:8080/player_api.php")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://panel.invalid:8080/player_api.php", gotURL)
}

func TestForProxy_socks5(t *testing.T) {
	c, err := ForProxy("socks5://user:pw@127.0.0.1:1080", time.Second)
	require.NoError(t, err)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, tr.DialContext)
	assert.Nil(t, tr.Proxy)
}

func TestForProxy_invalid(t *testing.T) {
	for _, in := range []string{"ftp://1.2.3.4:21", "http://", "://bad"} {
		_, err := ForProxy(in, time.Second)
		assert.Error(t, err, in)
	}
}

func TestHostSemaphore_limitsAndHonorsContext(t *testing.T) {
	h := NewHostSemaphore(1)
	release, err := h.Acquire(context.Background(), "http://a.example:80/x?y=1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Acquire(ctx, "http://a.example:80/other")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := h.Acquire(context.Background(), "http://b.example")
	require.NoError(t, err)
	other()

	release()
	again, err := h.Acquire(context.Background(), "http://a.example:80")
	require.NoError(t, err)
	again()
}

func TestHostLimiter(t *testing.T) {
	l := NewHostLimiter(1, 1)
	require.NoError(t, l.Wait(context.Background(), "http://a.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "http://a.example/path"))
	assert.NoError(t, l.Wait(ctx, "http://b.example"))

	unlimited := NewHostLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(context.Background(), "http://a.example"))
	}
}

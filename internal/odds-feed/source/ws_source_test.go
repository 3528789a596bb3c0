package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
)

// wsServer empurra as mensagens recebidas em push para cada cliente conectado.
func wsServer(t *testing.T, push <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range push {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSource_DrainsPushedRecords(t *testing.T) {
	push := make(chan string, 4)
	srv := wsServer(t, push)
	defer srv.Close()

	src, err := NewWSSource(wsURL(srv))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	_, err = src.Fetch(ctx, "")
	require.NoError(t, err)

	push <- `{"market_id":"M1","seq":1}`
	push <- `{"market_id":"M1","seq":2}`

	var got []RawRecord
	require.Eventually(t, func() bool {
		batch, err := src.Fetch(ctx, "")
		if err != nil {
			return false
		}
		got = append(got, batch.Records...)
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, `{"market_id":"M1","seq":2}`, string(got[1].Data))
}

func TestWSSource_DisconnectIsTransient(t *testing.T) {
	push := make(chan string)
	srv := wsServer(t, push)
	defer srv.Close()

	src, err := NewWSSource(wsURL(srv))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	_, err = src.Fetch(ctx, "")
	require.NoError(t, err)

	close(push) // servidor encerra a conexão

	require.Eventually(t, func() bool {
		_, err := src.Fetch(ctx, "")
		return err != nil && feederr.ClassOf(err) == feederr.Transient
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSSource_FlappingProviderFailsConsecutively(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close() // aceita e derruba
	}))
	defer srv.Close()

	src, err := NewWSSource(wsURL(srv))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	_, err = src.Fetch(ctx, "")
	require.NoError(t, err)

	// toda chamada encontra a conexão anterior caída e falha, sem alternar
	// com sucessos que zerariam a contagem de falhas do supervisor
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		_, err := src.Fetch(ctx, "")
		require.Error(t, err, "fetch %d", i)
		assert.Equal(t, feederr.Transient, feederr.ClassOf(err))
	}
}

func TestWSSource_BacklogDropsOldest(t *testing.T) {
	push := make(chan string, 8)
	srv := wsServer(t, push)
	defer srv.Close()

	src, err := NewWSSource(wsURL(srv), WithMaxBacklog(2))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	_, err = src.Fetch(ctx, "")
	require.NoError(t, err)

	for _, m := range []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`} {
		push <- m
	}
	require.Eventually(t, func() bool { return src.Dropped() == 1 }, 2*time.Second, 10*time.Millisecond)

	batch, err := src.Fetch(ctx, "")
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.JSONEq(t, `{"seq":2}`, string(batch.Records[0].Data))
	assert.Equal(t, Cursor("3"), batch.Next)
}

func TestWSSource_FetchAfterCloseIsFatal(t *testing.T) {
	src, err := NewWSSource("ws://127.0.0.1:1/ws")
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Fetch(context.Background(), "")
	assert.True(t, feederr.IsFatal(err))
}

// Command tokenpool-demo wires a Config, an identity Store, a fake
// Credential Exchanger, and a warpstream.Driver pointed at a local
// httptest server, then drives one request through warpengine and
// prints the decoded result. It exists to exercise the engine
// end-to-end without a live upstream, in the spirit of the teacher's
// examples/ tree.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/cecil-the-coder/warp-token-gateway/internal/protobridge"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/credex"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/identitypool"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpconfig"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpengine"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpstream"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// fakeExchanger stands in for a live identity service: it hands back a
// deterministic access token for any refresh token it is asked about.
type fakeExchanger struct{}

func (fakeExchanger) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "demo-access-" + refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

func (fakeExchanger) ProvisionAnonymous(_ context.Context) (string, *oauth2.Token, error) {
	return "", nil, fmt.Errorf("tokenpool-demo: anonymous provisioning is not wired for this demo")
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	codec := protobridge.NewMapCodec()
	raw, err := codec.Encode("", map[string]any{
		"client_actions": map[string]any{
			"actions": []any{
				map[string]any{
					"append_to_message_content": map[string]any{
						"message": map[string]any{"agent_output": map[string]any{"text": "hello from the fake upstream"}},
					},
				},
			},
		},
	})
	if err != nil {
		logger.Error("encode demo frame", "error", err)
		os.Exit(1)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n", hex.EncodeToString(raw))
	}))
	defer upstream.Close()

	cfg := &warpconfig.Config{
		Endpoints:      warpconfig.Endpoints{UpstreamURL: upstream.URL},
		QuotaMessages:  warpconfig.DefaultQuotaMessages(),
		ClientHeaders:  warpconfig.DefaultClientHeaders(),
		UpstreamClient: warpconfig.DefaultTimeouts(),
	}

	driver, err := warpstream.New(cfg, codec, logger)
	if err != nil {
		logger.Error("build upstream driver", "error", err)
		os.Exit(1)
	}

	store := identitypool.NewStore()
	store.Add("demo-anonymous-refresh", warptypes.PriorityAnonymous)

	controller := warpengine.New(store, fakeExchanger{}, driver, cfg.QuotaMessages, warpengine.WithLogger(logger))

	result, err := controller.DriveRequest(context.Background(), warptypes.RequestEnvelope{PayloadBytes: []byte("demo-payload")})
	if err != nil {
		logger.Error("drive_request failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("decoded text:", result.Text)
	fmt.Println("pool stats:", store.Stats())
}

var _ credex.Exchanger = fakeExchanger{}
